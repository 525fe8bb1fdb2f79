package delve_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fansqz/go-debug-adapter/debugger/delve"
	"github.com/fansqz/go-debug-adapter/debugger/delve/delvetest"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/go-delve/delve/service/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, opts delvetest.Options) (*delvetest.Server, *delve.Client) {
	srv, err := delvetest.Start(opts)
	require.Nil(t, err)
	t.Cleanup(srv.Close)
	client, err := delve.Dial(context.Background(), srv.Addr(), srv.APIVersion())
	require.Nil(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestClient_BothAPIVersions(t *testing.T) {
	for _, version := range []int{1, 2} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			ctx := context.Background()
			srv, client := dial(t, delvetest.Options{APIVersion: version, File: "/app/main.go"})
			assert.Equal(t, version == 1, client.IsAPIV1())

			state, err := client.GetState(ctx, true)
			require.Nil(t, err)
			assert.Equal(t, delvetest.EntryLine, state.State().CurrentThread.Line)

			created, err := client.CreateBreakpoint(ctx, &api.Breakpoint{File: "/app/main.go", Line: delvetest.LoopLine, Cond: "i == 3"})
			require.Nil(t, err)
			bp := created.Breakpoint()
			assert.Equal(t, delvetest.LoopLine, bp.Line)
			assert.Equal(t, "i == 3", bp.Cond)

			list, err := client.ListBreakpoints(ctx)
			require.Nil(t, err)
			// 两个异常断点加上新建的断点
			assert.Len(t, list.Breakpoints(), 3)

			result, err := client.Command(ctx, &api.DebuggerCommand{Name: api.Continue})
			require.Nil(t, err)
			stopped := result.State()
			require.NotNil(t, stopped.CurrentThread.Breakpoint)
			assert.Equal(t, bp.ID, stopped.CurrentThread.Breakpoint.ID)

			frames, err := client.Stacktrace(ctx, 1, 20)
			require.Nil(t, err)
			require.Len(t, frames.Frames(), 2)
			assert.Equal(t, "main.main", frames.Frames()[0].Function.Name())

			goroutines, err := client.ListGoroutines(ctx, 0, 100)
			require.Nil(t, err)
			assert.Len(t, goroutines.Goroutines(), 1)

			scope := api.EvalScope{GoroutineID: 1}
			locals, err := client.ListLocalVars(ctx, scope)
			require.Nil(t, err)
			require.Len(t, locals.Variables(), 1)
			assert.Equal(t, "3", locals.Variables()[0].Value)

			args, err := client.ListFunctionArgs(ctx, scope)
			require.Nil(t, err)
			assert.Empty(t, args.Variables())

			globals, err := client.ListPackageVars(ctx, `^main\.`)
			require.Nil(t, err)
			require.Len(t, globals.Variables(), 1)
			assert.Equal(t, "main.greeting", globals.Variables()[0].Name)

			require.Nil(t, client.Set(ctx, scope, "i", "7"))
			value, err := client.Eval(ctx, scope, "i * 10")
			require.Nil(t, err)
			assert.Equal(t, "70", value.Variable().Value)

			require.Nil(t, client.AmendBreakpoint(ctx, &api.Breakpoint{ID: bp.ID, Cond: ""}))
			cleared, err := client.ClearBreakpoint(ctx, bp.ID)
			require.Nil(t, err)
			assert.Equal(t, bp.ID, cleared.Breakpoint().ID)

			sources, err := client.ListSources(ctx, "")
			require.Nil(t, err)
			assert.Equal(t, []string{"/app/main.go"}, sources.Sources())

			_, err = client.ListPackagesBuildInfo(ctx, true)
			if version == 1 {
				assert.ErrorIs(t, err, e.ErrUnsupportedByAPIV1)
			} else {
				assert.Nil(t, err)
			}

			require.Nil(t, client.Detach(ctx, true))
			assert.Equal(t, []bool{true}, srv.DetachRequests())
		})
	}
}

func TestClient_BackendErrorIsVerbatim(t *testing.T) {
	_, client := dial(t, delvetest.Options{})
	_, err := client.CreateBreakpoint(context.Background(), &api.Breakpoint{File: "/app/main.go", Line: 3})
	var backendErr *delve.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "could not find statement at /app/main.go:3, please use a line with a statement", err.Error())
}

func TestClient_HaltWhileContinuing(t *testing.T) {
	srv, client := dial(t, delvetest.Options{})
	srv.BlockContinues(1)

	done := make(chan *api.DebuggerState, 1)
	go func() {
		result, err := client.Command(context.Background(), &api.DebuggerCommand{Name: api.Continue})
		assert.Nil(t, err)
		if result != nil {
			done <- result.State()
		}
		close(done)
	}()
	require.Eventually(t, srv.Running, 2*time.Second, 5*time.Millisecond)

	client.Halt()
	select {
	case state := <-done:
		require.NotNil(t, state)
		assert.False(t, state.Running)
	case <-time.After(2 * time.Second):
		t.Fatal("continue did not return after halt")
	}
	assert.Equal(t, 1, srv.Calls("Command:"+api.Halt))
}

func TestClient_ContextCanceled(t *testing.T) {
	srv, client := dial(t, delvetest.Options{})
	srv.BlockContinues(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Command(ctx, &api.DebuggerCommand{Name: api.Continue})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	client.Halt()
}

func TestClient_ConnectionLost(t *testing.T) {
	srv, client := dial(t, delvetest.Options{})
	srv.DropConnections()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not noticed")
	}
	_, err := client.GetState(context.Background(), true)
	assert.ErrorIs(t, err, e.ErrBackendClosed)

	assert.Nil(t, client.Close())
	assert.Nil(t, client.Close())
}

func TestDial_Unreachable(t *testing.T) {
	srv, err := delvetest.Start(delvetest.Options{})
	require.Nil(t, err)
	addr := srv.Addr()
	srv.Close()

	_, err = delve.Dial(context.Background(), addr, 2)
	assert.ErrorIs(t, err, e.ErrBackendUnreachable)
}
