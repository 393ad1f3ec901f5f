package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check bot status",
	Long: `Check the current status of a running bot through its API: processing
pool occupancy, open positions, execution metrics and feed health.`,
	RunE: runStatus,
}

var jsonOutput bool

// BotStatus mirrors the /api/v1/status response
type BotStatus struct {
	Pool struct {
		Running     bool `json:"running"`
		QueueLength int  `json:"queue_length"`
		ActiveJobs  int  `json:"active_jobs"`
	} `json:"pool"`
	OpenPositions  int  `json:"open_positions"`
	ShutdownActive bool `json:"shutdown_active"`
	HasSavedState  bool `json:"has_saved_state"`
	RecordedTrades int  `json:"recorded_trades"`
	Stream         *struct {
		Connected   bool  `json:"connected"`
		Reconnects  int   `json:"reconnects"`
		CandlesRead int64 `json:"candles_read"`
	} `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, raw, err := fetchStatus()
	if err != nil {
		fmt.Println("bot is offline")
		return nil
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(json.RawMessage(raw))
	}
	return printStatus(status)
}

func fetchStatus() (*BotStatus, []byte, error) {
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/status", host, port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var status BotStatus
	if err := json.Unmarshal(buf, &status); err != nil {
		return nil, nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, buf, nil
}

func printStatus(status *BotStatus) error {
	state := "running"
	if status.ShutdownActive {
		state = "shutting down"
	}
	fmt.Printf("Trading Bot Status\n")
	fmt.Printf("==================\n\n")
	fmt.Printf("State:           %s\n", state)
	fmt.Printf("Timestamp:       %s\n", status.Timestamp.Format(time.RFC3339))
	fmt.Printf("Open positions:  %d\n", status.OpenPositions)
	fmt.Printf("Recorded trades: %d\n", status.RecordedTrades)
	fmt.Printf("Saved state:     %v\n", status.HasSavedState)

	fmt.Printf("\nProcessing Pool\n")
	fmt.Printf("---------------\n")
	fmt.Printf("Running:     %v\n", status.Pool.Running)
	fmt.Printf("Queued jobs: %d\n", status.Pool.QueueLength)
	fmt.Printf("Active jobs: %d\n", status.Pool.ActiveJobs)

	if status.Stream != nil {
		fmt.Printf("\nMarket Feed\n")
		fmt.Printf("-----------\n")
		fmt.Printf("Connected:    %v\n", status.Stream.Connected)
		fmt.Printf("Reconnects:   %d\n", status.Stream.Reconnects)
		fmt.Printf("Candles read: %d\n", status.Stream.CandlesRead)
	}
	return nil
}
