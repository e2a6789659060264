package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/upstream"
	"github.com/tarik02/apiproxy/util"
	"github.com/tarik02/apiproxy/validate"
	sse "github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	goVersion "go.hein.dev/go-version"
)

var (
	fEndpoint   string
	fToken      string
	fTimeout    time.Duration
	fOutput     string
	fMinVersion string

	fMethod string
	fData   string
	fParams map[string]string
	fFields []string

	fShortened bool
)

var errFailed = errors.New("request failed")

func newProxy() (*upstream.Proxy, error) {
	return upstream.New(upstream.Target{
		BaseURL:    fEndpoint,
		Timeout:    fTimeout,
		Token:      fToken,
		MinVersion: fMinVersion,
	}, upstream.DefaultOperations())
}

// parseFields turns key=value pairs into a field map.
func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}
		fields[k] = v
	}
	return fields, nil
}

// buildPayload merges --data and --field values and validates them against the
// operation schema, if it has one. Without a schema or fields, --data is sent as is.
func buildPayload(op upstream.Operation, data string, pairs []string) (json.RawMessage, error) {
	if data == "" && len(pairs) == 0 {
		return nil, nil
	}

	if op.Schema == "" && len(pairs) == 0 {
		if !json.Valid([]byte(data)) {
			return nil, errors.New("--data must be valid JSON")
		}
		return json.RawMessage(data), nil
	}

	fields, err := util.DecodeFields([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("--data: %w", err)
	}
	extra, err := parseFields(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		fields[k] = v
	}

	if op.Schema != "" {
		schema, ok := validate.Lookup(op.Schema)
		if !ok {
			return nil, fmt.Errorf("unknown schema %q", op.Schema)
		}
		if errs := schema.Validate(fields); len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s", validationError(errs), strings.Join(errs, "; "))
		}
		fields = schema.Normalize(fields)
	}

	return json.Marshal(fields)
}

type validationError []string

func (e validationError) Error() string {
	return "validation failed"
}

func printEnvelope(cmd *cobra.Command, env api.Envelope) error {
	if err := writeValue(cmd.OutOrStdout(), fOutput, env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", errFailed, env.ErrorMessage())
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "apictl",
	Short:        "Call and inspect the records API",
	SilenceUsage: true,
	Version:      version,
}

var callCmd = &cobra.Command{
	Use:   "call <operation>",
	Short: "Call an upstream operation and print the envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newProxy()
		if err != nil {
			return err
		}

		op, ok := p.Operation(args[0])
		if !ok {
			return printEnvelope(cmd, p.Call(cmd.Context(), args[0], upstream.Call{}))
		}

		payload, err := buildPayload(op, fData, fFields)
		if err != nil {
			return err
		}

		return printEnvelope(cmd, p.Call(cmd.Context(), op.Name, upstream.Call{
			Method:  fMethod,
			Payload: payload,
			Params:  fParams,
		}))
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <operation>...",
	Short: "Call several GET operations concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newProxy()
		if err != nil {
			return err
		}

		res := p.Aggregate(cmd.Context(), args)
		if err := writeValue(cmd.OutOrStdout(), fOutput, res); err != nil {
			return err
		}
		for name, env := range res {
			if !env.Success {
				return fmt.Errorf("%w: %s: %s", errFailed, name, env.ErrorMessage())
			}
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check upstream health and version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newProxy()
		if err != nil {
			return err
		}
		return printEnvelope(cmd, p.Health(cmd.Context()))
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate key=value...",
	Short: "Validate record fields locally without calling the upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args)
		if err != nil {
			return err
		}

		errs := validate.RecordSchema.Validate(fields)
		if len(errs) > 0 {
			if err := writeValue(cmd.OutOrStdout(), fOutput, map[string]any{"valid": false, "errors": errs}); err != nil {
				return err
			}
			return validationError(errs)
		}

		return writeValue(cmd.OutOrStdout(), fOutput, map[string]any{
			"valid":  true,
			"record": validate.RecordSchema.Normalize(fields),
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream record changes from the records service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logging.FromContext(ctx)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(fEndpoint, "/")+"/api/events/records/live", nil)
		if err != nil {
			return err
		}
		if fToken != "" {
			util.SetBearerAuth(req, fToken)
		}

		conn := sse.NewConnection(req)
		remove := conn.SubscribeToAll(func(ev sse.Event) {
			out := map[string]any{"type": ev.Type}
			var payload any
			if err := json.Unmarshal([]byte(ev.Data), &payload); err == nil {
				out["payload"] = payload
			} else {
				out["payload"] = ev.Data
			}
			if err := writeValue(cmd.OutOrStdout(), fOutput, out); err != nil {
				log.Warn("error writing event", zap.Error(err))
			}
		})
		defer remove()

		log.Debug("watching", zap.String("url", req.URL.String()))

		if err := conn.Connect(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		format := fOutput
		if format == "" {
			format = outputJSON
		}
		fmt.Fprint(cmd.OutOrStdout(), goVersion.FuncWithOutput(fShortened, version, commit, date, format))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fEndpoint, "endpoint", "http://localhost:5000", "Records service base URL")
	rootCmd.PersistentFlags().StringVar(&fToken, "token", "", "Bearer token sent upstream")
	rootCmd.PersistentFlags().DurationVar(&fTimeout, "timeout", upstream.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().StringVarP(&fOutput, "output", "o", outputJSON, "Output format: json or yaml")

	callCmd.Flags().StringVarP(&fMethod, "method", "X", "", "HTTP method, defaults to the operation method")
	callCmd.Flags().StringVarP(&fData, "data", "d", "", "JSON object payload")
	callCmd.Flags().StringArrayVarP(&fFields, "field", "f", nil, "Payload field as key=value, repeatable")
	callCmd.Flags().StringToStringVarP(&fParams, "param", "p", nil, "Path or query parameter as key=value")

	healthCmd.Flags().StringVar(&fMinVersion, "min-version", "", "Fail when the upstream reports an older version")

	versionCmd.Flags().BoolVarP(&fShortened, "short", "s", false, "Print just the version number")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx := context.Background()

	log, _ := zap.NewDevelopment()
	ctx = logging.WithLogger(ctx, log)
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
