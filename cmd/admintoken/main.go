// Package main prints a signed operator token for the admin endpoints.
//
//	go run ./cmd/admintoken -sub ops@example.com
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/campuslink/matchmaker/config"
	"github.com/campuslink/matchmaker/internal/auth"
)

func main() {
	sub := flag.String("sub", "", "operator id (JWT subject)")
	role := flag.String("role", auth.RoleAdmin, "operator role")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(*sub, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
