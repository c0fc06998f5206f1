// Command healthcheck probes a running server's liveness and readiness
// endpoints and exits non-zero on failure. Intended for container
// HEALTHCHECK directives and deploy scripts.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("url", "http://localhost:8080", "base URL of the server")
	timeout := flag.Duration("timeout", 3*time.Second, "per-request timeout")
	ready := flag.Bool("ready", true, "also require /readyz to pass")
	flag.Parse()

	paths := []string{"/healthz"}
	if *ready {
		paths = append(paths, "/readyz")
	}

	c := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}
	for _, p := range paths {
		if err := probe(c, *base+p, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "healthcheck %s: %v\n", p, err)
			os.Exit(1)
		}
	}
	fmt.Println("ok")
}

func probe(c *fasthttp.Client, url string, timeout time.Duration) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}
