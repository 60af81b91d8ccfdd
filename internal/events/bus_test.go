package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ragctl/internal/model"
)

func TestBusDeliversSnapshots(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, TopicUpload)
	require.NoError(t, err)

	go func() {
		bus.Publish(TopicUpload, model.UploadState{Status: model.UploadUploading, Filename: "report.pdf"})
		bus.Publish(TopicUpload, model.UploadState{Status: model.UploadSuccess, Progress: 100, Filename: "report.pdf"})
	}()

	var got []model.UploadState
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			state, err := Decode[model.UploadState](msg)
			require.NoError(t, err)
			got = append(got, state)
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}
	assert.Equal(t, model.UploadUploading, got[0].Status)
	assert.Equal(t, model.UploadSuccess, got[1].Status)
	assert.Equal(t, 100, got[1].Progress)
}

func TestBusTopicsAreIsolated(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chatMsgs, err := bus.Subscribe(ctx, TopicChat)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		bus.Publish(TopicUpload, model.UploadState{Status: model.UploadIdle})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish without subscribers blocked")
	}

	select {
	case msg := <-chatMsgs:
		t.Fatalf("unexpected chat event %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NotPanics(t, func() { p.Publish(TopicChat, nil) })
}
