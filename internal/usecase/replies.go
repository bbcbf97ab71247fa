package usecase

import (
	"fmt"

	"github.com/MoonshotLab/carmen/internal/domain"
)

const (
	replyGreeting    = `Hi there. I'm Carmen, a chatbot made by Moonshot to help you find any room in the building. To use me, just ask, "Where's Uranus?", for example.`
	replyAcknowledge = "Sure!"
	replyThanks      = "You're welcome!"
	replyFeedback    = "Thanks for the suggestion!"
	replyNoMatch     = "I'm not sure what you mean. Try asking a different way!"
	replyDeclined    = "Unfortunately, I don't understand what you're asking. Maybe try asking a different way, or check your spelling!"
	replyReentered   = "I don't understand. Maybe try asking a different way!"
	replyApology     = "Oops, something went wrong! Don't worry, we're looking into it."
)

func questionFor(room domain.Room) string {
	return fmt.Sprintf("I'm not exactly sure what you meant. Were you asking how to find %s?", room.Name)
}

// followUpFor returns the image offer for a room, or "" when it has no images.
func followUpFor(room domain.Room) string {
	_, pic := room.Image(domain.ImagePicture)
	_, m := room.Image(domain.ImageMap)
	switch {
	case pic && m:
		return "Need more help? Reply 'P' for a picture of the room, or 'M' for a map."
	case pic:
		return "Need more help? Reply 'P' for a picture of the room."
	case m:
		return "Need more help? Reply 'M' for a map of the room."
	}
	return ""
}

func imageNoun(t domain.ImageType) string {
	if t == domain.ImageMap {
		return "map"
	}
	return "picture"
}

func noLastRoomFor(t domain.ImageType) string {
	return fmt.Sprintf("I'm not sure which room you're asking for a %s of. Try searching and then asking again.", imageNoun(t))
}

func missingImageFor(t domain.ImageType) string {
	return fmt.Sprintf("Sorry, I don't have a %s of that room.", imageNoun(t))
}

func imageSentFor(t domain.ImageType, room domain.Room) string {
	if t == domain.ImageMap {
		return fmt.Sprintf("Here's a map to %s.", room.Name)
	}
	return fmt.Sprintf("Here's a picture of %s.", room.Name)
}
