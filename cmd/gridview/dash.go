package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridfleet/gridview/internal/prefs"
	"github.com/gridfleet/gridview/internal/tui"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Launch the interactive operations console",
	RunE:  runDash,
}

func runDash(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning(apiAddr) {
		fmt.Println("gridview daemon not running, starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	var p *prefs.Store
	if path, err := prefs.DefaultPath(); err == nil {
		// A broken prefs db is not fatal; the console just forgets state.
		p, _ = prefs.Open(path)
	}
	if p != nil {
		defer p.Close()
	}

	app := tui.New(apiAddr, p)
	if err := app.Run(); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Detach so the daemon survives console exit.
	cmd := exec.Command(exe, "daemon", "--seed")
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(apiAddr) {
			fmt.Println(" done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
