package rlang

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
)

// request is one exchange with R. Its directory receives the reply
// fields and any input files the call needs.
type request struct {
	id  string
	dir string
}

func (r request) path(name string) string {
	return filepath.Join(r.dir, name)
}

// inputPrefix marks files the host writes for R to read
const inputPrefix = "in-"

func (r request) input(name string) string {
	return r.path(inputPrefix + name)
}

// newRequest allocates an id and creates the request directory. Must be
// called with processMutex held.
func (rr *RRuntime) newRequest() request {
	id := strconv.FormatInt(atomic.AddInt64(&rr.execSeq, 1), 10)
	dir := filepath.Join(rr.workDir, "req-"+id)
	_ = os.MkdirAll(dir, 0700)
	return request{id: id, dir: dir}
}

// reply holds the fields R wrote for one request
type reply struct {
	fields map[string]string
}

func (r *reply) get(name string) string {
	return strings.TrimSuffix(r.fields[name], "\n")
}

func (r *reply) lines(name string) []string {
	raw, ok := r.fields[name]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(raw, "\n"), "\n")
}

func (r *reply) raw(name string) []byte {
	return []byte(r.fields[name])
}

// guestError returns the condition carried by an error reply
func (r *reply) guestError() *runtime.GuestError {
	if r.get("status") != "error" {
		return nil
	}
	return &runtime.GuestError{
		Message: r.get("message"),
		Classes: runtime.ParseClasses(r.get("classes")),
		Package: r.get("package"),
		Call:    r.get("call"),
	}
}

// exchange runs one prelude call on a live session
func (rr *RRuntime) exchange(ctx context.Context, prepare func(req request) (string, error)) (*reply, error) {
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()

	if !rr.ready {
		return nil, errors.NewInitializationError("R session is not initialized", nil)
	}

	req := rr.newRequest()
	expr, err := prepare(req)
	if err != nil {
		_ = os.RemoveAll(req.dir)
		return nil, err
	}
	return rr.sendAndAwait(ctx, req, expr)
}

// sendAndAwait writes one serve call to R and waits for its end marker.
// processMutex must be held. When ctx ends first the process is killed,
// since a running R evaluation cannot be interrupted over the pipe.
func (rr *RRuntime) sendAndAwait(ctx context.Context, req request, expr string) (*reply, error) {
	defer func() {
		_ = os.RemoveAll(req.dir)
	}()

	line := fmt.Sprintf(".rbridge$serve(%s, %s, function() %s)\n",
		QuoteString(req.id), QuoteString(req.dir), expr)

	if rr.opts.Verbose {
		rr.logger.Debug("sending request", logging.StringField("id", req.id), logging.StringField("call", expr))
	}

	// drop markers left over from abandoned requests
	for len(rr.resultChan) > 0 {
		<-rr.resultChan
	}

	start := time.Now()
	if _, err := fmt.Fprint(rr.stdin, line); err != nil {
		rr.killLocked("stdin write failed")
		return nil, errors.NewInitializationError(fmt.Sprintf("failed to write to R stdin: %v", err), err)
	}

	for {
		select {
		case id, ok := <-rr.resultChan:
			if !ok {
				return nil, rr.processExited(nil)
			}
			if id != req.id {
				rr.logger.Debug("discarding stale reply marker", logging.StringField("id", id))
				continue
			}
			rep, err := readReply(req.dir)
			if err != nil {
				return nil, fmt.Errorf("failed to read R reply %s: %w", req.id, err)
			}
			if rr.opts.Verbose {
				rr.logger.Debug("request completed",
					logging.StringField("id", req.id),
					logging.DurationField("elapsed", time.Since(start)))
			}
			return rep, nil

		case err := <-rr.exitChan:
			return nil, rr.processExited(err)

		case <-ctx.Done():
			elapsed := time.Since(start)
			rr.killLocked(fmt.Sprintf("request %s: %v", req.id, ctx.Err()))
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.NewTimeoutError(elapsed.Round(time.Millisecond)).Wrap(ctx.Err())
			}
			return nil, errors.NewInterpreterRuntime("evaluation cancelled").Wrap(ctx.Err())
		}
	}
}

func (rr *RRuntime) processExited(waitErr error) error {
	tail := ""
	if rr.stderrTail != nil {
		tail = strings.TrimSpace(rr.stderrTail.String())
	}
	rr.cleanupLocked()
	msg := "R process exited unexpectedly"
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	if tail != "" {
		msg += "\n" + tail
	}
	rr.logger.Error(msg)
	return errors.NewInitializationError(msg, waitErr)
}

// readReply loads every field file R wrote for a request
func readReply(dir string) (*reply, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	rep := &reply{fields: make(map[string]string, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), inputPrefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rep.fields[entry.Name()] = string(data)
	}
	if _, ok := rep.fields["status"]; !ok {
		return nil, fmt.Errorf("reply in %s has no status", dir)
	}
	return rep, nil
}
