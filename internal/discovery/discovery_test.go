package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testService() *Service {
	return NewService(Config{AllowPrivateHosts: true})
}

func TestCandidateURLs(t *testing.T) {
	candidates := candidateURLs("https://example.com/docs/guide.html")

	wantTotal := len(priorityFiles) + len(seedDirFiles) + 2*len(commonSubdirs)
	if len(candidates) != wantTotal {
		t.Fatalf("candidates = %d, want %d", len(candidates), wantTotal)
	}
	if candidates[0] != "https://example.com/llms.txt" {
		t.Errorf("first candidate = %q, want root llms.txt", candidates[0])
	}

	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	for _, want := range []string{
		"https://example.com/robots.txt",
		"https://example.com/.well-known/ai.txt",
		"https://example.com/docs/llms.txt",
		"https://example.com/docs/sitemap.xml",
		"https://example.com/static/sitemap.xml",
	} {
		if !set[want] {
			t.Errorf("missing candidate %q", want)
		}
	}
}

func TestCandidateURLsRootSeed(t *testing.T) {
	candidates := candidateURLs("https://example.com")

	wantTotal := len(priorityFiles) + 2*len(commonSubdirs)
	if len(candidates) != wantTotal {
		t.Errorf("candidates = %d, want %d (no seed-directory probes at the root)", len(candidates), wantTotal)
	}
}

func TestSeedDirectory(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/docs/guide.html", "/docs"},
		{"/docs/guide", "/docs/guide"},
		{"/docs/", "/docs"},
		{"/manual.pdf", ""},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := seedDirectory(tt.path); got != tt.expected {
			t.Errorf("seedDirectory(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestSafeIP(t *testing.T) {
	tests := []struct {
		ip   string
		safe bool
	}{
		{"8.8.8.8", true},
		{"2001:4860:4860::8888", true},
		{"10.0.0.1", false},
		{"172.16.3.4", false},
		{"192.168.1.5", false},
		{"127.0.0.1", false},
		{"169.254.169.254", false},
		{"169.254.10.10", false},
		{"224.0.0.1", false},
		{"0.0.0.0", false},
		{"255.255.255.255", false},
		{"::1", false},
		{"fe80::1", false},
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := safeIP(ip); got != tt.safe {
			t.Errorf("safeIP(%s) = %v, want %v", tt.ip, got, tt.safe)
		}
	}
}

func TestValidateURLBlocksUnsafeTargets(t *testing.T) {
	s := NewService(Config{})

	for _, raw := range []string{
		"ftp://example.com/file.txt",
		"file:///etc/passwd",
		"https://127.0.0.1/llms.txt",
		"https://[::1]/llms.txt",
		"https://169.254.169.254/latest/meta-data/",
		"https://localhost/llms.txt",
	} {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("bad test URL %q: %v", raw, err)
		}
		if err := s.validateURL(context.Background(), u); err == nil {
			t.Errorf("validateURL(%q) = nil, want error", raw)
		}
	}
}

func TestValidateURLAllowPrivateHosts(t *testing.T) {
	s := NewService(Config{AllowPrivateHosts: true})

	u, _ := url.Parse("https://127.0.0.1/llms.txt")
	if err := s.validateURL(context.Background(), u); err != nil {
		t.Errorf("validateURL with AllowPrivateHosts = %v, want nil", err)
	}
}

func TestDiscoverFindsLlmsTxt(t *testing.T) {
	manifest := "# Docs\nhttps://example.com/guide\nhttps://example.com/api\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, manifest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file == nil {
		t.Fatal("Discover returned nil file")
	}
	if file.URL != server.URL+"/llms.txt" {
		t.Errorf("URL = %q, want %q", file.URL, server.URL+"/llms.txt")
	}
	if file.Content != manifest {
		t.Errorf("Content = %q, want manifest", file.Content)
	}
}

func TestDiscoverFallsBackToSitemap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<urlset><url><loc>https://example.com/page</loc></url></urlset>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file == nil {
		t.Fatal("Discover returned nil file")
	}
	if file.URL != server.URL+"/sitemap.xml" {
		t.Errorf("URL = %q, want sitemap", file.URL)
	}
	if file.ContentType != "application/xml" {
		t.Errorf("ContentType = %q, want application/xml", file.ContentType)
	}
}

func TestDiscoverFollowsRobotsSitemap(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nSitemap: %s/deep/sitemap.xml\n", server.URL)
	})
	mux.HandleFunc("/deep/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>https://example.com/page</loc></url></urlset>`)
	})

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file == nil {
		t.Fatal("Discover returned nil file")
	}
	if file.URL != server.URL+"/deep/sitemap.xml" {
		t.Errorf("URL = %q, want the sitemap declared in robots.txt", file.URL)
	}
}

func TestDiscoverReturnsRobotsWithoutSitemap(t *testing.T) {
	robots := "User-agent: *\nDisallow: /private\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, robots)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file == nil {
		t.Fatal("Discover returned nil file")
	}
	if file.URL != server.URL+"/robots.txt" {
		t.Errorf("URL = %q, want robots.txt itself", file.URL)
	}
	if !strings.Contains(file.Content, "User-agent") {
		t.Errorf("Content = %q, want robots body", file.Content)
	}
}

func TestDiscoverHTMLReference(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="sitemap" href="/generated/pages.xml"></head><body>home</body></html>`)
	})
	mux.HandleFunc("/generated/pages.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<urlset><url><loc>https://example.com/page</loc></url></urlset>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file == nil {
		t.Fatal("Discover returned nil file")
	}
	if file.URL != server.URL+"/generated/pages.xml" {
		t.Errorf("URL = %q, want the sitemap referenced from HTML", file.URL)
	}
}

func TestDiscoverNothing(t *testing.T) {
	server := httptest.NewServer(http.NewServeMux())
	defer server.Close()

	file, err := testService().Discover(context.Background(), []string{server.URL})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if file != nil {
		t.Errorf("file = %+v, want nil", file)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testService().Discover(ctx, []string{"https://example.com"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestSitemapFromRobots(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "declared",
			content:  "User-agent: *\nSitemap: https://example.com/generated.xml\n",
			expected: "https://example.com/generated.xml",
		},
		{
			name:     "case insensitive",
			content:  "SITEMAP: https://example.com/upper.xml",
			expected: "https://example.com/upper.xml",
		},
		{
			name:     "fallback to sibling",
			content:  "User-agent: *\nDisallow: /private\n",
			expected: "https://example.com/sitemap.xml",
		},
		{
			name:     "empty",
			content:  "",
			expected: "https://example.com/sitemap.xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sitemapFromRobots(tt.content, "https://example.com/robots.txt")
			if got != tt.expected {
				t.Errorf("sitemapFromRobots = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSitemapRefs(t *testing.T) {
	html := `<html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="Sitemap" href="/map1.xml">
		<meta name="sitemap" content="/map2.xml">
		<meta name="description" content="a page">
	</head><body><a href="/ignored">link</a></body></html>`

	refs := sitemapRefs(html)
	want := []string{"/map1.xml", "/map2.xml"}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}
