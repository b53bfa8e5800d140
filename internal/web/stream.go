package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// handleTrajectoryStream serves a Server-Sent Events stream of the trajectory
// JSONL for an instance. The file is polled and each new complete line is
// sent as one message. A "done" event follows once the run's summary exists.
func (s *Server) handleTrajectoryStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		flusher.Flush()
	}

	path := s.store.TrajectoryPath(id)
	var offset int64
	tick := time.NewTicker(s.poll)
	defer tick.Stop()

	for {
		n, err := sendNewLines(w, path, offset)
		if err != nil && !os.IsNotExist(err) {
			sendDone("error")
			return
		}
		offset += n
		flusher.Flush()

		if _, err := os.Stat(s.store.SummaryPath(id)); err == nil {
			// One final read picks up lines written just before the summary.
			n, _ := sendNewLines(w, path, offset)
			offset += n
			sendDone("finished")
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
		}
	}
}

// sendNewLines writes every complete line after offset as an SSE message
// and returns the number of bytes consumed.
func sendNewLines(w io.Writer, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return 0, nil
	}
	for _, line := range bytes.Split(data[:end], []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	return int64(end + 1), nil
}
