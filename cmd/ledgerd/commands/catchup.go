package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/service"
	"github.com/spf13/cobra"
)

var (
	catchupTo     uint32
	catchupHash   string
	catchupReplay bool
	catchupAbort  bool
)

// NewCatchupCmd produces a command asking a running node to catch up, or to
// abort a failed catchup.
func NewCatchupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Start or abort a catchup on a running node",
		RunE:  catchup,
	}
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "IP:Port of the node HTTP service")
	cmd.Flags().Uint32Var(&catchupTo, "to", 0, "Ledger to catch up to")
	cmd.Flags().StringVar(&catchupHash, "hash", "", "Expected hash of the --to ledger")
	cmd.Flags().BoolVar(&catchupReplay, "replay", false, "Replay archived values instead of trusting archived state")
	cmd.Flags().BoolVar(&catchupAbort, "abort", false, "Abort a failed catchup")
	return cmd
}

func catchup(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("service-listen")
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/catchup", addr)
	var body []byte

	if catchupAbort {
		url += "/abort"
	} else {
		if catchupTo == 0 {
			return fmt.Errorf("--to is required")
		}
		req := service.CatchupRequest{
			To:     catchupTo,
			Hash:   catchupHash,
			Verify: "trust",
		}
		if catchupReplay {
			req.Verify = "replay"
		}
		if body, err = json.Marshal(req); err != nil {
			return err
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(out))
	}

	fmt.Println(string(bytes.TrimSpace(out)))

	return nil
}
