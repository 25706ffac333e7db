package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// issue-token signs a JWT with JWT_SECRET for operators and smoke tests.
//
//	go run ./cmd/issue-token -type admin -user 1 -perms all
//	go run ./cmd/issue-token -type student -user 42 -class 7 -ttl 2h
func main() {
	var (
		tokenType string
		userID    int
		classID   int
		perms     string
		ttl       time.Duration
	)
	flag.StringVar(&tokenType, "type", "admin", "Token type: admin or student")
	flag.IntVar(&userID, "user", 0, "User ID (student ID for student tokens)")
	flag.IntVar(&classID, "class", 0, "Class ID (student tokens)")
	flag.StringVar(&perms, "perms", "", "Comma-separated permissions, or \"all\"")
	flag.DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	if userID <= 0 {
		log.Fatal("-user is required")
	}

	tt := service.TokenType(tokenType)
	if tt != service.TokenTypeAdmin && tt != service.TokenTypeStudent {
		log.Fatalf("unknown token type %q", tokenType)
	}

	permissions, err := parsePermissions(perms)
	if err != nil {
		log.Fatal(err)
	}
	if tt == service.TokenTypeStudent && len(permissions) > 0 {
		log.Fatal("student tokens carry no permissions")
	}

	cfg := config.Load()
	token, err := service.NewAuthService(cfg.JWTSecret).IssueToken(tt, userID, classID, permissions, ttl)
	if err != nil {
		log.Fatalf("Issue failed: %v", err)
	}
	fmt.Println(token)
}

func parsePermissions(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if raw == "all" {
		out := make([]string, 0, len(model.AllPermissions))
		for _, p := range model.AllPermissions {
			out = append(out, string(p))
		}
		return out, nil
	}

	known := make(map[string]bool, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		known[string(p)] = true
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !known[p] {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}
