// Command fitctl talks to a running chargefit service: it submits a profile
// read from CSV and follows the live fit stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ChargeFit/internal/domain/models"
	"ChargeFit/internal/fit"
	"ChargeFit/internal/service/stream"
	xhttp "ChargeFit/pkg/http"
)

const usage = `usage:
  fitctl profile [-addr URL] [-center X] [-pitch P] file.csv
  fitctl watch   [-addr URL] [-kind KIND] [-event ID]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "profile":
		err = runProfile(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("fitctl %s: %v", os.Args[1], err)
	}
}

func runProfile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "service base URL")
	center := fs.Float64("center", 0, "center estimate")
	pitch := fs.Float64("pitch", 1, "pixel spacing")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one CSV file")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	p, err := readProfile(f)
	if err != nil {
		return err
	}

	client := xhttp.NewClient(*addr, xhttp.WithTimeout(time.Minute))
	req := &xhttp.RequestOptions{
		Method: http.MethodPost,
		URL:    "/api/fit/profile",
		Body: models.ProfileFitRequest{
			Positions:      p.Positions,
			Charges:        p.Charges,
			CenterEstimate: *center,
			PixelSpacing:   *pitch,
		},
	}

	var res fit.FitResult
	if err := client.Call(ctx, req, &res); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "ws://localhost:8080/ws/fits", "stream URL")
	kind := fs.String("kind", "", "only records of this kind")
	event := fs.String("event", "", "only records of this event id")
	_ = fs.Parse(args)

	u, err := streamURL(*addr, *kind, *event)
	if err != nil {
		return err
	}
	c, err := stream.Dial(ctx, u, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	records, errs := c.Read(ctx)
	for rec := range records {
		r := rec.Result
		fmt.Printf("%s %-18s %-10s ok=%-5t m=%.4f γ=%.4f β=%.3f χ²/dof=%.3f\n",
			rec.CreatedAt.Format(time.RFC3339), rec.Kind, rec.EventID, r.Success, r.Center, r.Gamma, r.Beta, r.ReducedChi2)
	}
	return <-errs
}

func streamURL(addr, kind, event string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("stream url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	q := u.Query()
	if kind != "" {
		q.Set("kind", kind)
	}
	if event != "" {
		q.Set("event_id", event)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
