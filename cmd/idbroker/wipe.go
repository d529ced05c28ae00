package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// wipe goes through the running broker's admin API rather than the store
// directly, so it works against any deployment it can reach.
func newWipeCmd() *cobra.Command {
	var (
		baseURL = envOr("IDBROKER_ADMIN_URL", "http://localhost:8080")
		apiKey  = envOr("IDBROKER_ADMIN_KEY", "")
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Truncate every identity collection on a running broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("missing API key (flag --admin-api-key or env IDBROKER_ADMIN_KEY)")
			}
			if !yes {
				return fmt.Errorf("wipe destroys all users, accounts, sessions and tokens; re-run with --yes")
			}

			url := strings.TrimRight(baseURL, "/") + "/admin/wipe"
			req, err := http.NewRequest(http.MethodPost, url, nil)
			if err != nil {
				return err
			}
			req.Header.Set("X-Admin-API-Key", apiKey)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode/100 != 2 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("wipe failed: status=%d body=%s", resp.StatusCode, string(body))
			}
			fmt.Println("ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "admin-api-url", baseURL, "Broker base URL (env IDBROKER_ADMIN_URL)")
	cmd.Flags().StringVar(&apiKey, "admin-api-key", apiKey, "Admin API key (env IDBROKER_ADMIN_KEY)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	return cmd
}
