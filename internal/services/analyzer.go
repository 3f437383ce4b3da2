package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/firmscope/backend/internal/logger"
)

// Analyzer executes the individual pipeline stages. Each stage is an opaque
// external step that succeeds or fails and may leave artifacts under the
// process results directory.
type Analyzer interface {
	ExtractFilesystem(ctx context.Context, firmwarePath, resultsDir string) error
	ScanVulnerabilities(ctx context.Context, firmwarePath, resultsDir string) error
	IdentifyComponents(ctx context.Context, firmwarePath, resultsDir string) error
	DeepAnalysis(ctx context.Context, firmwarePath, resultsDir string) error
}

// VulnReport is the scan stage output, persisted as vulnerabilities.json.
// The statistics aggregator sums Count across all result sets.
type VulnReport struct {
	Count    int           `json:"count"`
	Findings []VulnFinding `json:"findings"`
}

type VulnFinding struct {
	Path  string `json:"path"`
	Issue string `json:"issue"`
}

// ComponentReport is the identification stage output (components.json).
type ComponentReport struct {
	Components []string `json:"components"`
}

// EntropyReport is the deep analysis output (deep_analysis.json). Regions
// close to 8 bits/byte usually mean encrypted or compressed payloads.
type EntropyReport struct {
	ChunkSize          int     `json:"chunk_size"`
	MeanEntropy        float64 `json:"mean_entropy"`
	MaxEntropy         float64 `json:"max_entropy"`
	HighEntropyRegions int     `json:"high_entropy_regions"`
}

// ToolAnalyzer is the production Analyzer. Extraction shells out to binwalk;
// the remaining stages inspect the extracted tree and the raw image.
type ToolAnalyzer struct {
	// BinwalkPath overrides the binary looked up on PATH. Empty means "binwalk".
	BinwalkPath string
}

func (a *ToolAnalyzer) binwalk() string {
	if a.BinwalkPath != "" {
		return a.BinwalkPath
	}
	return "binwalk"
}

// ExtractFilesystem unpacks embedded filesystems into resultsDir/extracted.
// The caller bounds ctx with the extraction timeout.
func (a *ToolAnalyzer) ExtractFilesystem(ctx context.Context, firmwarePath, resultsDir string) error {
	outputDir := filepath.Join(resultsDir, "extracted")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.binwalk(), "-e", "-C", outputDir, firmwarePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("binwalk timed out: %w", ctx.Err())
		}
		return fmt.Errorf("binwalk failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Filename patterns that indicate a security-relevant artifact in an
// extracted filesystem.
var riskyPatterns = []struct {
	substring string
	issue     string
}{
	{"shadow", "password hash file exposed"},
	{"passwd", "account database exposed"},
	{"id_rsa", "embedded SSH private key"},
	{".pem", "embedded certificate or key material"},
	{"telnetd", "telnet daemon present"},
	{"dropbear", "dropbear SSH daemon present"},
	{"httpd.conf", "web server configuration exposed"},
	{"wpa_supplicant.conf", "wireless credentials exposed"},
}

// ScanVulnerabilities walks the extracted tree for known risky artifacts and
// writes vulnerabilities.json.
func (a *ToolAnalyzer) ScanVulnerabilities(ctx context.Context, firmwarePath, resultsDir string) error {
	report := VulnReport{Findings: []VulnFinding{}}

	root := filepath.Join(resultsDir, "extracted")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // entry vanished or unreadable, skip
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		for _, p := range riskyPatterns {
			if strings.Contains(name, p.substring) {
				rel, relErr := filepath.Rel(resultsDir, path)
				if relErr != nil {
					rel = path
				}
				report.Findings = append(report.Findings, VulnFinding{Path: rel, Issue: p.issue})
				break
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vulnerability scan failed: %w", err)
	}

	report.Count = len(report.Findings)
	return writeReport(filepath.Join(resultsDir, "vulnerabilities.json"), report)
}

// Component markers recognized in extracted filesystems.
var componentMarkers = map[string]string{
	"busybox":  "BusyBox",
	"dropbear": "Dropbear SSH",
	"lighttpd": "lighttpd",
	"uhttpd":   "uHTTPd",
	"openssl":  "OpenSSL",
	"dnsmasq":  "dnsmasq",
	"hostapd":  "hostapd",
	"uboot":    "U-Boot",
	"u-boot":   "U-Boot",
}

// IdentifyComponents records known software components found in the
// extracted tree (components.json).
func (a *ToolAnalyzer) IdentifyComponents(ctx context.Context, firmwarePath, resultsDir string) error {
	seen := map[string]bool{}

	root := filepath.Join(resultsDir, "extracted")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := strings.ToLower(d.Name())
		for marker, component := range componentMarkers {
			if strings.Contains(name, marker) {
				seen[component] = true
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("component identification failed: %w", err)
	}

	report := ComponentReport{Components: []string{}}
	for component := range seen {
		report.Components = append(report.Components, component)
	}
	return writeReport(filepath.Join(resultsDir, "components.json"), report)
}

const entropyChunkSize = 4096

// DeepAnalysis computes per-chunk Shannon entropy over the raw image and
// writes deep_analysis.json.
func (a *ToolAnalyzer) DeepAnalysis(ctx context.Context, firmwarePath, resultsDir string) error {
	data, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware image: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("firmware image is empty")
	}

	report := EntropyReport{ChunkSize: entropyChunkSize}
	var sum float64
	var chunks int
	for off := 0; off < len(data); off += entropyChunkSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := off + entropyChunkSize
		if end > len(data) {
			end = len(data)
		}
		e := shannonEntropy(data[off:end])
		sum += e
		chunks++
		if e > report.MaxEntropy {
			report.MaxEntropy = e
		}
		if e > 7.5 {
			report.HighEntropyRegions++
		}
	}
	report.MeanEntropy = sum / float64(chunks)

	return writeReport(filepath.Join(resultsDir, "deep_analysis.json"), report)
}

func shannonEntropy(data []byte) float64 {
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func writeReport(path string, report interface{}) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Debug("Wrote analysis report", map[string]interface{}{"path": path})
	return nil
}
