package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// gatedBackend holds requests for slowDestination until release is closed and
// answers every other request immediately. It ignores cancellation so the slow
// response really does arrive after the fast one.
type gatedBackend struct {
	slowDestination geo.Point
	started         chan struct{}
	release         chan struct{}
}

func (b *gatedBackend) ComputeDirections(ctx context.Context, profile Profile, req DirectionsRequest) ([]byte, error) {
	dest := geo.Point{Latitude: req.Coordinates[1][1], Longitude: req.Coordinates[1][0]}
	if dest == b.slowDestination {
		close(b.started)
		<-b.release
		return directionsFixture(900, 9000, dest), nil
	}
	return directionsFixture(300, 3000, dest), nil
}

func TestSession_LatestRequestWins(t *testing.T) {
	firstDestination := geo.Point{Latitude: 33.8000, Longitude: -84.4000}
	secondDestination := atlantaDestination

	backend := &gatedBackend{
		slowDestination: firstDestination,
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	session := NewSession(NewPlanner(backend, 0))

	type outcome struct {
		result  RouteResult
		applied bool
		err     error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		result, applied, err := session.Plan(context.Background(), RouteRequest{
			Origin: atlantaOrigin, Destination: firstDestination, Mode: Driving,
		})
		firstDone <- outcome{result, applied, err}
	}()

	select {
	case <-backend.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the backend")
	}

	second, applied, err := session.Plan(context.Background(), RouteRequest{
		Origin: atlantaOrigin, Destination: secondDestination, Mode: Driving,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.True(t, second.OK())

	// Let the superseded request resolve after the newer one
	close(backend.release)
	var first outcome
	select {
	case first = <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never finished")
	}
	require.NoError(t, first.err)
	assert.False(t, first.applied, "superseded result must not be applied")

	current, gen := session.Current()
	assert.Equal(t, uint64(2), gen)
	require.NotNil(t, current.ETASeconds)
	assert.Equal(t, 300.0, *current.ETASeconds)
	assert.Equal(t, secondDestination, current.Path[len(current.Path)-1])
}

// blockingBackend waits for cancellation and reports it
type blockingBackend struct {
	started chan struct{}
}

func (b *blockingBackend) ComputeDirections(ctx context.Context, profile Profile, req DirectionsRequest) ([]byte, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSession_CancelDiscardsInFlight(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{})}
	session := NewSession(NewPlanner(backend, time.Minute))

	done := make(chan struct {
		result  RouteResult
		applied bool
	}, 1)
	go func() {
		result, applied, _ := session.Plan(context.Background(), RouteRequest{
			Origin: atlantaOrigin, Destination: atlantaDestination, Mode: Walking,
		})
		done <- struct {
			result  RouteResult
			applied bool
		}{result, applied}
	}()

	<-backend.started
	session.Cancel()

	select {
	case out := <-done:
		assert.False(t, out.applied)
		assert.True(t, errors.Is(out.result.Failure, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled request never returned")
	}

	_, gen := session.Current()
	assert.Equal(t, uint64(0), gen)
}

func TestSession_UnsupportedModeLeavesState(t *testing.T) {
	backend := &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
	session := NewSession(NewPlanner(backend, 0))

	_, applied, err := session.Plan(context.Background(), RouteRequest{
		Origin: atlantaOrigin, Destination: atlantaDestination, Mode: "hovercraft",
	})
	var modeErr *UnsupportedModeError
	require.True(t, errors.As(err, &modeErr))
	assert.False(t, applied)

	_, gen := session.Current()
	assert.Equal(t, uint64(0), gen)
}
