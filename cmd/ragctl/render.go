package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/app"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/model"
)

const progressWidth = 30

// renderer draws upload progress and panel switches as the controllers
// publish them.
type renderer struct {
	out    io.Writer
	logger *zap.Logger

	lastUpload model.UploadState
	lastView   app.ViewState
}

// startRenderer subscribes to the bus and draws until the returned stop
// function is called.
func startRenderer(ctx context.Context, e *env, out io.Writer) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	uploads, err := e.bus.Subscribe(ctx, events.TopicUpload)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", events.TopicUpload, err)
	}
	views, err := e.bus.Subscribe(ctx, events.TopicView)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", events.TopicView, err)
	}

	r := &renderer{out: out, logger: e.logger.Named("render"), lastView: e.app.State()}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for uploads != nil || views != nil {
			select {
			case msg, ok := <-uploads:
				if !ok {
					uploads = nil
					continue
				}
				r.handle(msg, r.upload)
			case msg, ok := <-views:
				if !ok {
					views = nil
					continue
				}
				r.handle(msg, r.view)
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (r *renderer) handle(msg *message.Message, draw func(*message.Message) error) {
	if err := draw(msg); err != nil {
		r.logger.Warn("render event", zap.Error(err))
	}
	msg.Ack()
}

func (r *renderer) upload(msg *message.Message) error {
	st, err := events.Decode[model.UploadState](msg)
	if err != nil {
		return err
	}
	prev := r.lastUpload
	r.lastUpload = st
	switch st.Status {
	case model.UploadUploading:
		filled := st.Progress * progressWidth / 100
		fmt.Fprintf(r.out, "\rUploading %s [%s%s] %3d%%",
			st.Filename, strings.Repeat("#", filled), strings.Repeat(".", progressWidth-filled), st.Progress)
	case model.UploadSuccess:
		if prev.Status == model.UploadUploading {
			fmt.Fprintln(r.out)
		}
		color.New(color.FgGreen).Fprintf(r.out, "Uploaded %s\n", st.Filename)
	case model.UploadError:
		if prev.Status == model.UploadUploading {
			fmt.Fprintln(r.out)
		}
		color.New(color.FgRed).Fprintf(r.out, "Upload failed: %s\n", st.Error)
	}
	return nil
}

func (r *renderer) view(msg *message.Message) error {
	st, err := events.Decode[app.ViewState](msg)
	if err != nil {
		return err
	}
	prev := r.lastView
	r.lastView = st
	if st.View == prev.View {
		return nil
	}
	switch st.View {
	case model.ViewChat:
		if st.DocumentID != nil {
			color.New(color.FgCyan).Fprintf(r.out, "Chatting about document %d\n", *st.DocumentID)
		} else {
			color.New(color.FgCyan).Fprintln(r.out, "Chat panel")
		}
	case model.ViewUpload:
		color.New(color.FgCyan).Fprintln(r.out, "Upload panel: enter a path to a PDF")
	case model.ViewLogin:
		color.New(color.FgYellow).Fprintln(r.out, "Signed out")
	}
	return nil
}
