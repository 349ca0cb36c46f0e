package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/unklstewy/adsb-feedhub/internal/db"
	"github.com/unklstewy/adsb-feedhub/pkg/config"
)

// Airport Importer
// Loads the airports table used to resolve IATA route codes to ICAO codes.
//
// Download airports.csv from:
// https://ourairports.com/data/
//
// Rows without an ICAO code are skipped. Running the importer again updates
// existing airports in place.

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "data/airports.csv", "Path to the OurAirports airports.csv file")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Airport Importer")
	log.Println("===========================================")

	if err := godotenv.Load(); err == nil {
		log.Println("✓ Environment loaded from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *csvPath, err)
	}
	defer file.Close()

	airports, err := db.ParseAirportsCSV(file)
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", *csvPath, err)
	}
	withIATA := 0
	for _, a := range airports {
		if a.IATA != "" {
			withIATA++
		}
	}
	log.Printf("✓ Parsed %d airports (%d with IATA codes)", len(airports), withIATA)

	ctx := context.Background()

	log.Println("Connecting to database...")
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("✓ Database connected")

	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("✓ Schema initialized")

	count, err := db.NewAirportRepository(database).UpsertAirports(ctx, airports)
	if err != nil {
		log.Fatalf("Failed to import airports: %v", err)
	}

	log.Println("\n===========================================")
	log.Println("Import Complete")
	log.Println("===========================================")
	log.Printf("Airports written: %d", count)
}
