package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cdpproxy/internal/lookup"
	"cdpproxy/internal/session"
	"cdpproxy/pkg/api"
	"cdpproxy/pkg/model"
)

var lookupOpts struct {
	service string
	text    bool
	timeout time.Duration
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [target-id]",
	Short: "Fetch the page's public IP from inside the page",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLookup,
}

func init() {
	lookupCmd.Flags().StringVar(&lookupOpts.service, "service", lookup.DefaultService, "lookup service URL")
	lookupCmd.Flags().BoolVar(&lookupOpts.text, "text", false, "print the raw body instead of parsing JSON")
	lookupCmd.Flags().DurationVar(&lookupOpts.timeout, "timeout", lookup.DefaultTimeout, "request timeout inside the page")
}

func runLookup(cmd *cobra.Command, args []string) error {
	conn, err := newConnector(cfg, log)
	if err != nil {
		return err
	}
	defer conn.close()
	mgr := session.NewManager(conn.attach, log)
	defer mgr.Close()

	var id model.TargetID
	if len(args) == 1 {
		id = model.TargetID(args[0])
	}
	s, err := mgr.Attach(cmd.Context(), id)
	if err != nil {
		return err
	}
	res, err := api.Lookup(cmd.Context(), s.Page, lookup.Options{
		Service: lookupOpts.service,
		Text:    lookupOpts.text,
		Timeout: lookupOpts.timeout,
	})
	if err != nil {
		return err
	}
	if lookupOpts.text || res.IP() == "" {
		fmt.Println(res.Body)
		return nil
	}
	fmt.Println(res.IP())
	return nil
}
