package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/emulator"
	"github.com/oriys/pulsar/internal/logging"
)

// emulateCmd runs a local control plane so the runtime can be exercised
// without the platform: start `bootstrap emulate` in one terminal, point
// AWS_LAMBDA_RUNTIME_API at it and run `bootstrap` in another.
func emulateCmd() *cobra.Command {
	var (
		addr      string
		specPath  string
		event     string
		eventName string
	)

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local invocation API and feed queued events to the runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init("text", "info")

			var spec *emulator.Spec
			switch {
			case specPath != "":
				loaded, err := emulator.LoadSpec(specPath)
				if err != nil {
					return err
				}
				spec = loaded
			case event != "":
				payload := event
				if data, err := os.ReadFile(event); err == nil {
					payload = string(data)
				}
				spec = &emulator.Spec{
					FunctionName: "local-function",
					Events:       []emulator.Event{{Name: eventName, Payload: payload}},
				}
			default:
				return fmt.Errorf("either --events or --event is required")
			}

			s := emulator.NewServer(spec.FunctionName)
			if spec.TimeoutS > 0 {
				s.DefaultTimeout = time.Duration(spec.TimeoutS) * time.Second
			}

			srv := &http.Server{Addr: addr, Handler: s.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("emulator listener failed", "error", err)
					os.Exit(1)
				}
			}()
			logging.Op().Info("emulator listening",
				"addr", addr, "events", len(spec.Events),
				"hint", "export AWS_LAMBDA_RUNTIME_API="+addr)

			ids := make([]string, 0, len(spec.Events))
			for _, ev := range spec.Events {
				ids = append(ids, s.Enqueue(ev))
			}

			failures := 0
			for i, id := range ids {
				outcome, ok := s.Wait(id)
				if !ok {
					continue
				}
				name := spec.Events[i].Name
				if outcome.IsError {
					failures++
					fmt.Printf("✗ %s (%s): %s\n", name, id, outcome.Body)
				} else {
					fmt.Printf("✓ %s (%s): %s\n", name, id, outcome.Body)
				}
			}

			srv.Shutdown(context.Background())
			if failures > 0 {
				return fmt.Errorf("%d of %d events failed", failures, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9001", "listen address for the invocation API")
	cmd.Flags().StringVar(&specPath, "events", "", "YAML file describing the event queue")
	cmd.Flags().StringVar(&event, "event", "", "single event: inline JSON or a path to a JSON file")
	cmd.Flags().StringVar(&eventName, "name", "event", "name for the single event")
	return cmd
}
