// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagservicetest serves an in-process tag store on a temporary
// socket for tests of binaries that dial tagd.
package tagservicetest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/bureau-foundation/tagbus/lib/tagservice"
	"github.com/bureau-foundation/tagbus/lib/tagstore"
	"github.com/bureau-foundation/tagbus/lib/testutil"
)

// Serve starts a server for store and returns its socket path once it
// accepts connections. The server stops when the test ends.
func Serve(t *testing.T, store *tagstore.Store) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	socketPath := filepath.Join(testutil.SocketDir(t), "tagd.sock")
	server := tagservice.NewServer(socketPath, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	for {
		client, err := tagservice.Dial(t.Context(), socketPath, logger)
		if err == nil {
			client.Close()
			return socketPath
		}
		if t.Context().Err() != nil {
			t.Fatalf("server never listened: %v", err)
		}
		runtime.Gosched()
	}
}
