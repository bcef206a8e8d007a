// brickctl drives the BrickWatch control plane from the command line.
//
// Exit codes: 0 success, 1 unrecoverable error, 2 invalid input.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitError    = 1
	exitBadInput = 2
)

var (
	baseURL string
	apiKey  string
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "brickctl",
		Short:         "Control the BrickWatch scraping pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&baseURL, "api", "http://localhost:8080", "control plane base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("BRICKWATCH_API_KEY"), "API key")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		resetCmd(),
		sweepCmd(),
		detectCmd(),
		forceScrapeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitErr, ok := err.(*exitCodeError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(exitBadInput)
	}
}

type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, recent jobs and worker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/api/v1/queue/status", nil)
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Obliterate the queue and repopulate from repository state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/queue/reset", nil)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/scheduler/run", nil)
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run missing-data detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/api/v1/detect-missing-data", nil)
		},
	}
}

func forceScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-scrape <item-id> [item-id...]",
		Short: "Enqueue HIGH-priority scrapes, bypassing intervals and breakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &exitCodeError{code: exitBadInput, msg: "at least one item id is required"}
			}
			for _, id := range args {
				if strings.TrimSpace(id) == "" {
					return &exitCodeError{code: exitBadInput, msg: "empty item id"}
				}
			}
			return call(http.MethodPost, "/api/v1/scrape/force", map[string]interface{}{
				"item_ids": args,
			})
		},
	}
}

// call performs one control-plane request and prints the JSON response.
// HTTP 4xx maps to exit 2, transport failures and 5xx to exit 1.
func call(method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &exitCodeError{code: exitError, msg: err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(baseURL, "/")+path, reader)
	if err != nil {
		return &exitCodeError{code: exitBadInput, msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return &exitCodeError{code: exitError, msg: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exitCodeError{code: exitError, msg: err.Error()}
	}

	printJSON(respBody)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &exitCodeError{code: exitBadInput, msg: fmt.Sprintf("request rejected (%d)", resp.StatusCode)}
	default:
		return &exitCodeError{code: exitError, msg: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
}

func printJSON(body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		os.Stdout.Write(body)
		fmt.Println()
		return
	}
	pretty.WriteTo(os.Stdout)
	fmt.Println()
}
