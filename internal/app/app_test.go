package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/MoonshotLab/carmen/internal/config"
	"github.com/MoonshotLab/carmen/internal/domain"
)

const rooms = `
- name: Uranus
  alternateNames: [Big Conference Room]
  location: Third floor, east wing.
  images:
    picture: img/uranus.jpg
- name: Neptune
  location: Second floor.
`

var errNoAWS = errors.New("aws must not be used")

func noAWS(context.Context) (aws.Config, error) {
	return aws.Config{}, errNoAWS
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rooms), 0o600))

	return &config.Config{
		StoreBackend:          config.BackendSQLite,
		SQLitePath:            filepath.Join(dir, "carmen.db"),
		CatalogPath:           path,
		SiteURL:               "https://carmen.example.com",
		TwilioAccountSID:      "AC123",
		TwilioNumber:          "+15550000",
		TwilioAuthToken:       "token",
		VCardName:             "Carmen",
		VCardPhone:            "+15550000",
		FuzzyThreshold:        3,
		DisambiguationTimeout: 30 * time.Second,
		FollowUpDelay:         time.Second,
	}
}

func TestNew_LocalStack(t *testing.T) {
	a, err := New(context.Background(), localConfig(t), WithAWSLoader(noAWS))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Equal(t, 2, a.Rooms)

	replies, err := a.Engine.Handle(context.Background(), domain.InboundMessage{From: "+1555", Text: "Where is the big conference room?"})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	require.Equal(t, "Third floor, east wing.", replies[0].Text)
	require.Equal(t, time.Second, replies[1].Delay)

	doc := a.Stats.Document()
	require.Equal(t, 1, doc.Total.Messages.Received)
	require.Equal(t, 1, doc.Total.Rooms["Uranus"].TotalRequests)

	resp, err := a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/health"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/vcard"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Body, "TEL;TYPE=WORK,VOICE:+15550000\r\n")
}

func TestNew_StatsSurviveRestart(t *testing.T) {
	cfg := localConfig(t)

	a, err := New(context.Background(), cfg, WithAWSLoader(noAWS))
	require.NoError(t, err)
	_, err = a.Engine.Handle(context.Background(), domain.InboundMessage{From: "+1555", Text: "neptune"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(context.Background(), cfg, WithAWSLoader(noAWS))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	require.Equal(t, 1, b.Stats.Document().Total.Rooms["Neptune"].TotalRequests)
}

func TestNew_LoadsAWSOnlyWhenNeeded(t *testing.T) {
	t.Run("dynamodb backend", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.StoreBackend = config.BackendDynamoDB
		cfg.StateTable = "carmen-state"

		_, err := New(context.Background(), cfg, WithAWSLoader(noAWS))
		require.ErrorIs(t, err, errNoAWS)
	})

	t.Run("catalog from parameter store", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.CatalogPath = ""
		cfg.ParamPrefix = "/carmen"

		_, err := New(context.Background(), cfg, WithAWSLoader(noAWS))
		require.ErrorIs(t, err, errNoAWS)
	})

	t.Run("token from parameter store", func(t *testing.T) {
		cfg := localConfig(t)
		cfg.TwilioAuthToken = ""
		cfg.ParamPrefix = "/carmen"

		_, err := New(context.Background(), cfg, WithAWSLoader(noAWS))
		require.ErrorIs(t, err, errNoAWS)
	})
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)

	cfg := localConfig(t)
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(context.Background(), cfg, WithAWSLoader(noAWS))
	require.ErrorContains(t, err, "catalog")

	cfg = localConfig(t)
	cfg.StoreBackend = "redis"
	_, err = New(context.Background(), cfg, WithAWSLoader(noAWS))
	require.ErrorContains(t, err, "unknown store backend")
}

func TestWait_BackgroundWork(t *testing.T) {
	a := &App{}
	release := make(chan struct{})
	a.goTracked(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, a.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, a.Wait(context.Background()))
}
