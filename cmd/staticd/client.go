package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/staticd/internal/coordinator"
	"github.com/benaskins/staticd/internal/daemon"
)

func apiClient(timeout time.Duration) *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// apiError decodes the daemon's {"error", "code"} body.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (%s)", e.Error, e.Code)
	}
	return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
}

func apiGet(path string, v any) error {
	resp, err := apiClient(30 * time.Second).Get("http://staticd" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is staticd daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiPost allows for slow operations: a stop waits up to the stop timeout.
func apiPost(path string, v any) error {
	resp, err := apiClient(2 * time.Minute).Post("http://staticd"+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is staticd daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st daemon.Status
		if err := apiGet("/v1/server", &st); err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(st)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		row := func(label, value string) {
			if value == "" {
				value = "-"
			}
			fmt.Fprintf(w, "%s\t%s\n", renderLabel(label), value)
		}
		row("STATE", renderState(st.State))
		row("ORIGIN", renderLink(st.Origin))
		row("DIRECTORY", st.FileDir)
		row("LAUNCHER", st.Launcher)
		row("RUNNING", strconv.FormatBool(st.Running))
		row("RESTARTS", strconv.Itoa(st.Restarts))
		row("CORRELATION", st.CorrelationID)
		w.Flush()

		if st.LastDetail != "" {
			fmt.Printf("\n%s\n", st.LastDetail)
		}
		return nil
	},
}

type originResponse struct {
	Status string `json:"status"`
	Origin string `json:"origin"`
}

// start command
var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"up"},
	Short:   "Start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result originResponse
		if err := apiPost("/v1/server/start", &result); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", renderState("active"), renderLink(result.Origin))
		return nil
	},
}

// stop command
var stopCmd = &cobra.Command{
	Use:     "stop",
	Aliases: []string{"down"},
	Short:   "Stop the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result originResponse
		if err := apiPost("/v1/server/stop", &result); err != nil {
			return err
		}
		fmt.Println(renderState("inactive"))
		return nil
	},
}

// restart command
var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result originResponse
		if err := apiPost("/v1/server/restart", &result); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", renderState("active"), renderLink(result.Origin))
		return nil
	},
}

// reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon config",
	Long:  "Re-read the config file. A running server is restarted if its options changed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result daemon.ReloadResult
		if err := apiPost("/v1/reload", &result); err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(result)
		}

		switch {
		case result.Restarted:
			fmt.Printf("Server restarted: %s\n", result.Origin)
		case result.ServerChanged:
			fmt.Println("Server options updated")
		}
		if result.PolicyChanged {
			fmt.Println("Restart policy updated")
		}
		if len(result.RequiresRestart) > 0 {
			fmt.Printf("Restart the daemon to apply: %v\n", result.RequiresRestart)
		}
		if !result.ServerChanged && !result.PolicyChanged && len(result.RequiresRestart) == 0 {
			fmt.Println("No changes")
		}
		return nil
	},
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent server output",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		var resp struct {
			Lines []string `json:"lines"`
		}
		if err := apiGet("/v1/server/logs?n="+strconv.Itoa(n), &resp); err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

// events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow server events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://staticd/v1/events", nil)
		if err != nil {
			return err
		}
		resp, err := apiClient(0).Do(req)
		if err != nil {
			return fmt.Errorf("connecting to daemon: %w (is staticd daemon running?)", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return apiError(resp)
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if jsonOut {
				fmt.Println(scanner.Text())
				continue
			}
			var ev coordinator.Event
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				continue
			}
			line := fmt.Sprintf("%s  %-10s %s", ev.Time.Format(time.DateTime), ev.Signal, ev.CorrelationID)
			if ev.Detail != "" {
				line += "  " + ev.Detail
			}
			fmt.Println(line)
		}
		return scanner.Err()
	},
}

// port command
var portCmd = &cobra.Command{
	Use:   "port [address]",
	Short: "Print a free TCP port",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/net/open-port"
		if len(args) == 1 {
			path += "?address=" + url.QueryEscape(args[0])
		}
		var resp struct {
			Port int `json:"port"`
		}
		if err := apiGet(path, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Port)
		return nil
	},
}

// ip command
var ipCmd = &cobra.Command{
	Use:   "ip",
	Short: "Print the LAN IPv4 address",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Address string `json:"address"`
		}
		if err := apiGet("/v1/net/local-ip", &resp); err != nil {
			return err
		}
		fmt.Println(resp.Address)
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(portCmd)
	rootCmd.AddCommand(ipCmd)
}
