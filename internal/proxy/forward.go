package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
)

// streamQueueLen bounds how many chunks may sit between the upstream
// reader and the client writer.
const streamQueueLen = 8

// proxyPass forwards r to up and relays the response. The outbound request
// shares r's context, so a client disconnect cancels it.
func (s *Service) proxyPass(w http.ResponseWriter, r *http.Request, up *upstream) string {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var body io.Reader
	if r.ContentLength != 0 && r.Body != nil {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, up.target(r.URL).String(), body)
	if err != nil {
		log.Printf("proxy: building request for %s: %v", up.name, err)
		return s.fail(w, http.StatusBadGateway, "bad-gateway")
	}
	req.ContentLength = r.ContentLength
	copyHeaders(req.Header, r.Header)
	removeHopByHop(req.Header)
	addVia(req.Header, r.ProtoMajor, r.ProtoMinor)
	setForwarded(req.Header, r)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return s.upstreamFailed(w, r, up, err)
	}
	defer resp.Body.Close()

	h := w.Header()
	removeHopByHop(resp.Header)
	copyHeaders(h, resp.Header)
	addVia(h, resp.ProtoMajor, resp.ProtoMinor)
	setSynapseHeaders(h, "proxied")

	streaming := s.cfg.Stream.Always || isEventStream(resp.Header)
	if streaming {
		h.Del("Content-Length")
	}
	w.WriteHeader(resp.StatusCode)

	var n int64
	if streaming {
		n, err = s.stream(ctx, cancel, w, resp.Body)
		streamedBytesTotal.Add(float64(n))
	} else {
		n, err = io.Copy(w, resp.Body)
	}
	if err != nil && r.Context().Err() == nil {
		s.upstreamLog.Printf("proxy: relaying response from %s: %v", up.name, err)
	}
	if s.stats != nil {
		s.stats.ObserveBody(n, streaming)
	}
	return "proxied"
}

func (s *Service) upstreamFailed(w http.ResponseWriter, r *http.Request, up *upstream, err error) string {
	switch {
	case r.Context().Err() != nil:
		return s.fail(w, statusClientClosed, "client-closed")
	case isTimeout(err):
		upstreamErrorsTotal.WithLabelValues(up.name, "timeout").Inc()
		s.upstreamLog.Printf("proxy: upstream %s timed out: %v", up.name, err)
		return s.fail(w, http.StatusGatewayTimeout, "gateway-timeout")
	default:
		upstreamErrorsTotal.WithLabelValues(up.name, "unreachable").Inc()
		s.upstreamLog.Printf("proxy: upstream %s unreachable: %v", up.name, err)
		return s.fail(w, http.StatusBadGateway, "bad-gateway")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isEventStream(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "text/event-stream"
}

type chunk struct {
	b   []byte
	err error
}

// stream relays body to w chunk by chunk, flushing after every write. A
// producer goroutine reads from the upstream into a bounded channel; if
// the client write fails, cancel stops the upstream read.
func (s *Service) stream(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, body io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return 0, err
	}

	ch := make(chan chunk, streamQueueLen)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, s.cfg.Stream.chunkSize)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case ch <- chunk{b: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case ch <- chunk{err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	var written int64
	for c := range ch {
		if c.err != nil {
			return written, c.err
		}
		n, err := w.Write(c.b)
		written += int64(n)
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			cancel()
			for range ch {
			}
			return written, err
		}
	}
	return written, nil
}
