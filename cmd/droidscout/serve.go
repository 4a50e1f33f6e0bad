package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/droidscout/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored runs over HTTP",
	Long:  `Exposes the PTG, FDG, Mermaid diagrams and screenshots of every stored run as a read-only JSON API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		port, _ := cmd.Flags().GetString("port")
		srv := &http.Server{
			Addr:    ":" + port,
			Handler: httpAdapter.NewHandler(rs.store, httpAdapter.WithLogger(logger)),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting droidscout server on %s\n", srv.Addr)
		if err := httpAdapter.ServeUntil(ctx, srv, 5*time.Second); err != nil {
			return err
		}
		fmt.Println("Server exited properly")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}
