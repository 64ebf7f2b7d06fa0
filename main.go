package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"chatlink/server"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	dbPath := os.Getenv("CHATLINK_DB")
	if dbPath == "" {
		dbPath = "chatlink.db"
	}

	store, err := server.OpenStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	srv := server.NewServer(store)

	log.Printf("chatlink server listening on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, srv.Router()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
