// Command fimock serves a fake financial data provider for local development.
package main

import (
	"flag"
	"log"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/artha/internal/datasource/providertest"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dir := flag.String("fixtures", "", "fixture directory laid out as <phone>/<tool>.json")
	users := flag.String("users", "2222222222", "comma separated phone numbers served with the built-in fixtures")
	flag.Parse()

	logger := log.New(log.Writer(), "[FIMOCK] ", log.LstdFlags)
	p := providertest.New()
	if *dir != "" {
		loaded, err := providertest.LoadDir(*dir)
		if err != nil {
			logger.Fatalf("load fixtures: %v", err)
		}
		p = loaded
	}
	for _, phone := range strings.Split(*users, ",") {
		if phone = strings.TrimSpace(phone); phone != "" {
			p.WithDefaultUser(phone)
		}
	}
	logger.Printf("serving fake provider on %s", *addr)
	if err := http.ListenAndServe(*addr, p.Handler()); err != nil {
		logger.Fatal(err)
	}
}
