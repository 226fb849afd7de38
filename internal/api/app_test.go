package api

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

func (s *HandlerTestSuite) TestRunServerInterruptible() {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	port := l.Addr().(*net.TCPAddr).Port
	s.Require().NoError(l.Close())

	stop, done := RunServerInterruptible(port, s.handler)
	s.Eventually(func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	close(stop)
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("server did not shut down")
	}
}
