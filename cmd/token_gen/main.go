package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/technosupport/ts-guardian/internal/tokens"
)

func main() {
	userID := flag.String("user", "resident-1", "identity subject")
	name := flag.String("name", "Dev Resident", "display name")
	email := flag.String("email", "resident@example.com", "email")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = "dev-secret-do-not-use-in-prod"
	}
	mgr := tokens.NewManager(key)

	token, err := mgr.GenerateToken(*userID, *name, *email, *ttl)
	if err != nil {
		panic(err)
	}
	fmt.Println(token)
}
