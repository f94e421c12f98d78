package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/backend"
	"liveness-eval/internal/eval"
	"liveness-eval/internal/objstore"
	"liveness-eval/internal/report"
)

func main() {
	_ = godotenv.Load()

	imagePath := flag.String("image", "", "Path to a single image file")
	directory := flag.String("directory", "", "Directory of image files")
	txtFile := flag.String("txt-file", "", "Path to a single base64 text file")
	txtDirectory := flag.String("txt-directory", "", "Directory of base64 text files")

	useSaaS := flag.Bool("use-saas", false, "Evaluate against the SaaS backend")
	saasURL := flag.String("saas-url", envOr("SAAS_URL", backend.DefaultSaaSURL), "SaaS evaluation endpoint")
	saasAPIKey := flag.String("saas-api-key", envOr("SAAS_API_KEY", ""), "API key for the SaaS backend")

	useSDK := flag.Bool("use-sdk", false, "Evaluate against local SDK instances")
	sdkBaseURL := flag.String("sdk-base-url", envOr("SDK_BASE_URL", backend.DefaultSDKBaseURL), "SDK base URL prefix (port is appended)")
	sdkEndpoint := flag.String("sdk-endpoint", envOr("SDK_ENDPOINT", backend.DefaultSDKEndpoint), "SDK endpoint path")
	sdkPorts := flag.String("sdk-port", "", "Comma-separated SDK ports (max 3)")
	sdkVersions := flag.String("sdk-version", "", "Comma-separated SDK version labels (pairs with -sdk-port)")

	workers := flag.Int("workers", eval.DefaultWorkers, "Concurrent artifact workers")
	timeout := flag.Duration("timeout", backend.DefaultRequestTimeout, "Per-request HTTP timeout")
	outputPath := flag.String("output", "reports/liveness_report.md", "Report path; placed under a dated reports/ subdirectory")
	htmlOut := flag.Bool("html", false, "Also render the report as HTML")
	verbose := flag.Bool("verbose", false, "Log per-artifact progress")
	analyzeQuality := flag.Bool("analyze-jpeg-quality", false, "Add a JPEG compression-quality column to the report")
	qualityURL := flag.String("quality-url", envOr("QUALITY_URL", backend.DefaultQualityURL), "JPEG quality analysis endpoint")

	fetchLogs := flag.Bool("fetch-logs", false, "Fetch evaluation logs from the object store instead of running a batch")
	s3Endpoint := flag.String("s3-endpoint", envOr("S3_ENDPOINT", ""), "Object store endpoint")
	s3Region := flag.String("s3-region", envOr("S3_REGION", ""), "Object store region")
	s3AccessKey := flag.String("s3-access-key", envOr("S3_ACCESS_KEY", ""), "Object store access key")
	s3SecretKey := flag.String("s3-secret-key", envOr("S3_SECRET_KEY", ""), "Object store secret key")
	s3Bucket := flag.String("s3-bucket", envOr("S3_BUCKET", ""), "Object store bucket")
	s3UseSSL := flag.Bool("s3-ssl", true, "Use TLS for the object store")
	logClient := flag.String("log-client", "", "Client partition for log retrieval")
	logTenant := flag.String("log-tenant", "", "Tenant partition for log retrieval")
	logDate := flag.String("log-date", "", "Log date YYYY-MM-DD")
	logResource := flag.String("log-resource", "", "Resource partition; empty lists available resources")
	logDest := flag.String("log-dest", "logs", "Local directory for downloaded logs")
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *fetchLogs {
		runFetchLogs(objstore.Config{
			Endpoint:  *s3Endpoint,
			Region:    *s3Region,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
			Bucket:    *s3Bucket,
			UseSSL:    *s3UseSSL,
		}, *logClient, *logTenant, *logDate, *logResource, *logDest)
		return
	}

	sourcePath, kind, err := resolveSource(*imagePath, *directory, *txtFile, *txtDirectory)
	if err != nil {
		exitWith(err.Error())
	}

	ports, err := parsePorts(*sdkPorts)
	if err != nil {
		exitWith(err.Error())
	}
	targets, err := backend.BuildTargets(backend.Options{
		UseSaaS:     *useSaaS,
		SaaSURL:     *saasURL,
		SaaSAPIKey:  *saasAPIKey,
		UseSDK:      *useSDK,
		SDKBaseURL:  *sdkBaseURL,
		SDKEndpoint: *sdkEndpoint,
		SDKPorts:    ports,
		SDKVersions: splitList(*sdkVersions),
	})
	if err != nil {
		exitWith(err.Error())
	}

	for _, target := range targets {
		if target.Kind == backend.KindSDK && !backend.PortOpen("localhost", target.Port, backend.DefaultPortCheckTimeout) {
			slog.Warn("SDK port is not answering; its column will report connection errors",
				"backend", target.Name, "port", target.Port)
		}
	}

	descriptors, err := artifact.Discover(sourcePath, kind)
	if err != nil {
		exitWith(err.Error())
	}
	valid, invalid := artifact.ValidateBatch(descriptors)
	for _, bad := range invalid {
		slog.Warn("skipping invalid artifact", "title", bad.Title)
	}
	if len(valid) == 0 {
		exitWith("no valid artifacts to evaluate")
	}

	reportPath, imageDir, err := report.ResolveOutputPath(*outputPath)
	if err != nil {
		exitWith(err.Error())
	}

	var quality *backend.QualityAnalyzer
	if *analyzeQuality {
		quality = backend.NewQualityAnalyzer(*qualityURL, *timeout)
	}

	client := backend.NewClient(*timeout)
	orchestrator, err := eval.New(client, eval.Options{
		Targets:      targets,
		Workers:      *workers,
		TempImageDir: imageDir,
		Quality:      quality,
		OnEvent: func(event eval.Event) {
			if *verbose {
				slog.Debug(event.Stage, "message", event.Message, "data", event.Data)
			}
		},
	})
	if err != nil {
		exitWith(err.Error())
	}

	slog.Info("evaluating batch",
		"artifacts", len(valid),
		"invalid", len(invalid),
		"backends", backend.Names(targets),
		"workers", *workers,
	)

	rows := orchestrator.Run(context.Background(), valid)

	assembler := report.NewAssembler(reportPath)
	markdown, err := assembler.WriteMarkdown(rows, backend.Names(targets))
	if err != nil {
		exitWith("failed to write report: " + err.Error())
	}
	if *htmlOut {
		htmlPath, err := report.WriteHTML(reportPath, markdown)
		if err != nil {
			exitWith("failed to write HTML report: " + err.Error())
		}
		slog.Info("HTML report written", "path", htmlPath)
	}

	errorCells := 0
	for _, row := range rows {
		for _, diagnostic := range row.Diagnostics {
			if strings.HasPrefix(diagnostic, "Error") || strings.HasPrefix(diagnostic, "Connection error") {
				errorCells++
			}
		}
	}
	fmt.Printf("Evaluated %d artifact(s) across %d backend(s)\n", len(rows), len(targets))
	if errorCells > 0 {
		fmt.Printf("Backend errors: %d cell(s); see the report for details\n", errorCells)
	}
	fmt.Printf("Report: %s\n", reportPath)
}

func runFetchLogs(cfg objstore.Config, client, tenant, date, resource, dest string) {
	if strings.TrimSpace(client) == "" || strings.TrimSpace(tenant) == "" {
		exitWith("-log-client and -log-tenant are required with -fetch-logs")
	}
	day, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		exitWith("-log-date must be YYYY-MM-DD")
	}
	store, err := objstore.New(cfg)
	if err != nil {
		exitWith(err.Error())
	}
	query := objstore.LogQuery{
		Client:   client,
		Tenant:   tenant,
		Year:     day.Year(),
		Month:    int(day.Month()),
		Day:      day.Day(),
		Resource: resource,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if strings.TrimSpace(resource) == "" {
		resources, err := store.ListResources(ctx, query)
		if err != nil {
			exitWith(err.Error())
		}
		if len(resources) == 0 {
			fmt.Println("No resources found for that date")
			return
		}
		fmt.Println("Available resources:")
		for _, name := range resources {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println("Re-run with -log-resource to download logs")
		return
	}

	keys, err := store.ListLogs(ctx, query)
	if err != nil {
		exitWith(err.Error())
	}
	if len(keys) == 0 {
		fmt.Println("No logs found")
		return
	}
	for _, key := range keys {
		localPath, err := store.Download(ctx, key, dest)
		if err != nil {
			exitWith(err.Error())
		}
		fmt.Printf("Downloaded %s\n", localPath)
	}
	fmt.Printf("Fetched %d log(s) into %s\n", len(keys), dest)
}

func resolveSource(imagePath, directory, txtFile, txtDirectory string) (string, artifact.Kind, error) {
	type source struct {
		path string
		kind artifact.Kind
	}
	var selected []source
	if strings.TrimSpace(imagePath) != "" {
		selected = append(selected, source{imagePath, artifact.KindImage})
	}
	if strings.TrimSpace(directory) != "" {
		selected = append(selected, source{directory, artifact.KindImage})
	}
	if strings.TrimSpace(txtFile) != "" {
		selected = append(selected, source{txtFile, artifact.KindBase64Text})
	}
	if strings.TrimSpace(txtDirectory) != "" {
		selected = append(selected, source{txtDirectory, artifact.KindBase64Text})
	}
	switch len(selected) {
	case 0:
		return "", "", fmt.Errorf("one of -image, -directory, -txt-file or -txt-directory is required")
	case 1:
		return selected[0].path, selected[0].kind, nil
	default:
		return "", "", fmt.Errorf("only one source flag may be set")
	}
}

func parsePorts(list string) ([]int, error) {
	parts := splitList(list)
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		port, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func splitList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}
