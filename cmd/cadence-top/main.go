package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/cadence/internal/top"
	"github.com/zsiec/cadence/pkg/version"
)

func main() {
	var (
		baseURL     string
		useHTTP3    bool
		insecure    bool
		interval    time.Duration
		showVersion bool
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the playback service")
	flag.BoolVar(&useHTTP3, "http3", false, "Connect over HTTP/3 (requires an https URL)")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	flag.DurationVar(&interval, "interval", 250*time.Millisecond, "Snapshot polling interval")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	client := top.NewClient(baseURL, top.ClientOptions{HTTP3: useHTTP3, Insecure: insecure})
	defer client.Close()

	p := tea.NewProgram(top.NewModel(client, baseURL, interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "cadence-top: %v\n", err)
		os.Exit(1)
	}
}
