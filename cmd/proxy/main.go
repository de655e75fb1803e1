// Command proxy runs the rate-limiting forward proxy of spec §6 in front of
// a JSON-RPC RPC endpoint, grounded on the teacher's cmd/xchainserver/main.go
// env-configured net/http server entrypoint.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"synnergy-network/pkg/utils"
	"synnergy-network/proxy"
)

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	upstream := os.Getenv("UPSTREAM_URL")
	if upstream == "" {
		log.Fatal("UPSTREAM_URL is required")
	}
	listenAddr := utils.EnvOrDefault("LISTEN_ADDR", ":8899")
	mode := proxy.RateMode(utils.EnvOrDefault("RATE_MODE", string(proxy.ModePerIP)))
	behavior := proxy.BehaviorWait
	if os.Getenv("RATE_BEHAVIOR") == "immediate" {
		behavior = proxy.BehaviorImmediate
	}

	burst := utils.EnvOrDefaultInt("RATE_BURST", 40)
	window := time.Duration(utils.EnvOrDefaultInt("RATE_WINDOW_SECONDS", 10)) * time.Second

	p := proxy.New(proxy.Config{
		UpstreamURL: upstream,
		RateMode:    mode,
		Behavior:    behavior,
		Burst:       burst,
		Window:      window,
		Logger:      log,
	})

	log.Infof("proxy listening on %s, forwarding to %s, mode=%s", listenAddr, upstream, mode)
	if err := http.ListenAndServe(listenAddr, p.Router()); err != nil {
		log.Fatal(err)
	}
}
