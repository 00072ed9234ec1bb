// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command deskq is a one-shot CLI client for a running deskrouter service.
//
// Usage:
//
//	deskq ask "open tickets for John Doe"
//	deskq ask --max-results 10 "high priority incidents from last week"
//	deskq tools
//	deskq health
//
// The server address comes from --server or DESKROUTER_URL (default
// http://localhost:8080).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/deskrouter/services/router"
)

var (
	serverURL  string
	maxResults int
	showPlan   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskq",
		Short: "Query a deskrouter service from the command line",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(),
		"Base URL of the deskrouter service")

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a natural-language ticketing question",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	askCmd.Flags().IntVar(&maxResults, "max-results", 5, "Maximum results per tool call (1-25)")
	askCmd.Flags().BoolVar(&showPlan, "plan", false, "Print the execution plan")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the service is willing to call",
		Run:   runToolsCommand,
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check service and backend health",
		Run:   runHealthCommand,
	}

	rootCmd.AddCommand(askCmd, toolsCmd, healthCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServerURL() string {
	if v := os.Getenv("DESKROUTER_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	body, err := json.Marshal(router.QueryRequest{Query: question, MaxResults: maxResults})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	resp, err := httpClient().Post(
		strings.TrimRight(serverURL, "/")+"/v1/query",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		log.Fatalf("Server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result router.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	fmt.Println(result.Summary)

	if len(result.Results) > 0 {
		fmt.Println()
		for _, inc := range result.Results {
			line := fmt.Sprintf("  %s  %-12s %s", inc.Number, inc.Status, inc.Title)
			if inc.Priority != "" {
				line += "  [" + inc.Priority + "]"
			}
			fmt.Println(line)
		}
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	if showPlan && result.Plan != nil {
		fmt.Printf("\nIntent: %s\n", result.Plan.Intent)
		for _, step := range result.Plan.Steps {
			fmt.Printf("  %d. %s\n", step.Step, step.Action)
		}
		fmt.Printf("Execution time: %.3fs\n", result.ExecutionTime)
	}
}

func runToolsCommand(_ *cobra.Command, _ []string) {
	resp, err := httpClient().Get(strings.TrimRight(serverURL, "/") + "/v1/tools")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Tools []string `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	for _, tool := range body.Tools {
		fmt.Println(tool)
	}
}

func runHealthCommand(_ *cobra.Command, _ []string) {
	resp, err := httpClient().Get(strings.TrimRight(serverURL, "/") + "/v1/health")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}
