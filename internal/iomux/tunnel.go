package iomux

import (
	"io"
	"time"
)

// Tunnel copies r into the multiplexer as a stream of timestamped output
// frames of the given kind, until r returns EOF or an error. started is
// the job's execution start time, used to compute each frame's
// milliseconds-since-start timestamp. It never returns an error: a read
// failure simply ends the tunnel, mirroring a closed stdout/stderr pipe.
func Tunnel(mux *Mux, sessionID, kind string, r io.Reader, started time.Time) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			tsMs := time.Since(started).Milliseconds()
			mux.SendOutput(sessionID, kind, chunk, tsMs)
		}
		if err != nil {
			return
		}
	}
}
