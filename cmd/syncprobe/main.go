// Command syncprobe polls a running convsync daemon's health endpoint and
// exits non-zero when the daemon is unreachable or unhealthy. Suitable as a
// container healthcheck or a watchdog probe.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	target := flag.String("target", "http://127.0.0.1:8080/healthz", "daemon health URL to probe")
	timeout := flag.Duration("timeout", 2*time.Second, "per-request timeout")
	attempts := flag.Int("attempts", 3, "attempts before reporting failure")
	interval := flag.Duration("interval", time.Second, "delay between attempts")
	flag.Parse()

	client := &fasthttp.Client{
		Name:         "convsync-syncprobe",
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	var lastErr error
	for i := 0; i < *attempts; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		status, body, err := probe(client, *target, *timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if status != fasthttp.StatusOK {
			lastErr = fmt.Errorf("status %d: %s", status, body)
			continue
		}
		fmt.Printf("ok: %s\n", body)
		return
	}
	fmt.Fprintf(os.Stderr, "unhealthy after %d attempts: %v\n", *attempts, lastErr)
	os.Exit(1)
}

func probe(client *fasthttp.Client, target string, timeout time.Duration) (int, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := client.DoTimeout(req, resp, timeout); err != nil {
		return 0, "", err
	}
	return resp.StatusCode(), string(resp.Body()), nil
}
