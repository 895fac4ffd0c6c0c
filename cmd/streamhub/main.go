package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Guilhem-Bonnet/streamhub/internal/app"
)

func main() {
	baseURL := flag.String("server", envOr("STREAMHUB_SERVER_URL", "http://127.0.0.1:8080"), "URL du serveur (ex: http://127.0.0.1:8080)")
	timeout := flag.Duration("timeout", 60*time.Second, "Timeout HTTP")
	clientID := flag.String("client", envOr("STREAMHUB_CLIENT_ID", "cli"), "Identifiant client (X-Client-ID)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	c := &cli{http: &http.Client{Timeout: *timeout}, base: *baseURL, client: *clientID}

	switch args[0] {
	case "health":
		c.run(http.MethodGet, "/api/health", nil)
	case "version":
		c.run(http.MethodGet, "/api/version", nil)
	case "providers":
		path := "/api/providers"
		if len(args) > 1 {
			path += "?" + url.Values{"type": {args[1]}}.Encode()
		}
		c.run(http.MethodGet, path, nil)
	case "links":
		if len(args) < 3 {
			usage()
		}
		content := map[string]any{"type": args[1], "id": args[2]}
		for i, key := range []string{"season", "episode"} {
			if len(args) <= 3+i {
				break
			}
			n, err := app.ParamInt(args[3+i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s invalide: %q\n", key, args[3+i])
				os.Exit(2)
			}
			content[key] = n
		}
		c.links(content)
	default:
		fmt.Fprintln(os.Stderr, "Commande inconnue:", args[0])
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: streamhub [health|version|providers [type]|links <movie|tv|anime> <id> [season] [episode]]")
	os.Exit(2)
}

type cli struct {
	http   *http.Client
	base   string
	client string
}

func (c *cli) do(method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Client-ID", c.client)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (c *cli) run(method, path string, body any) {
	status, b, err := c.do(method, path, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(1)
	}
	printBody(b)
	if status >= 400 {
		os.Exit(1)
	}
}

// links ouvre une session, attend la fin de l'agrégation puis affiche les liens et les lecteurs externes.
func (c *cli) links(content map[string]any) {
	status, b, err := c.do(http.MethodPost, "/api/sessions", map[string]any{"content": content, "wait": true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(1)
	}
	if status >= 400 {
		printBody(b)
		os.Exit(1)
	}
	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &session); err != nil || session.ID == "" {
		fmt.Fprintln(os.Stderr, "Réponse inattendue:", string(b))
		os.Exit(1)
	}
	defer func() { _, _, _ = c.do(http.MethodDelete, "/api/sessions/"+session.ID, nil) }()

	status, b, err = c.do(http.MethodGet, "/api/sessions/"+session.ID+"/wait", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(1)
	}
	var view struct {
		Links []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
			Type string `json:"type"`
		} `json:"links"`
		Externals []struct {
			Name string `json:"name"`
		} `json:"externals"`
	}
	if status >= 400 || json.Unmarshal(b, &view) != nil {
		printBody(b)
		os.Exit(1)
	}
	for _, l := range view.Links {
		fmt.Printf("%-24s %-5s %s\n", l.Name, l.Type, l.URL)
	}
	if len(view.Links) == 0 {
		fmt.Println("Aucun lien direct.")
	}
	for _, e := range view.Externals {
		fmt.Printf("%-24s embed\n", e.Name)
	}
}

func printBody(b []byte) {
	var pretty any
	if err := json.Unmarshal(b, &pretty); err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pretty)
		return
	}
	os.Stdout.Write(b)
	os.Stdout.Write([]byte("\n"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
