package intent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MoonshotLab/carmen/internal/domain"
)

func TestYesNo(t *testing.T) {
	for _, s := range []string{"yes", "Yes!", "yeah sure", "y", "Yup, that one", "ok"} {
		require.True(t, IsAffirmative(Normalize(s)), s)
		require.False(t, IsNegative(Normalize(s)), s)
	}
	for _, s := range []string{"no", "Nope.", "nah thanks", "n"} {
		require.True(t, IsNegative(Normalize(s)), s)
		require.False(t, IsAffirmative(Normalize(s)), s)
	}
	for _, s := range []string{"yellow room", "neptune", "", "nothing"} {
		require.False(t, IsAffirmative(Normalize(s)), s)
		require.False(t, IsNegative(Normalize(s)), s)
	}
}

func TestIsFeedback(t *testing.T) {
	require.True(t, IsFeedback(Normalize("Feedback: more rooms please")))
	require.True(t, IsFeedback(Normalize("I have a suggestion")))
	require.False(t, IsFeedback(Normalize("where is the feedbackroom")))
}

func TestImageRequest(t *testing.T) {
	kind, ok := ImageRequest(Normalize("P"))
	require.True(t, ok)
	require.Equal(t, domain.ImagePicture, kind)

	kind, ok = ImageRequest(Normalize("Map"))
	require.True(t, ok)
	require.Equal(t, domain.ImageMap, kind)

	_, ok = ImageRequest(Normalize("print room"))
	require.False(t, ok)
}

func TestClassifySmallTalk(t *testing.T) {
	require.Equal(t, SmallTalkGreeting, ClassifySmallTalk(Normalize("Hi there")))
	require.Equal(t, SmallTalkGreeting, ClassifySmallTalk(Normalize("Who are you?")))
	require.Equal(t, SmallTalkAcknowledge, ClassifySmallTalk(Normalize("OK")))
	require.Equal(t, SmallTalkThanks, ClassifySmallTalk(Normalize("thank you!")))
	require.Equal(t, SmallTalkNone, ClassifySmallTalk(Normalize("this is nothing")))
	require.Equal(t, SmallTalkNone, ClassifySmallTalk(""))
}
