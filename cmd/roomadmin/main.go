package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/duetchat/duet/internal/database"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/teris-io/shortid"
)

const usage = `Usage: roomadmin <command> [args]

Commands:
  create [hours]   create a room, optionally expiring after the given hours
  close <code>     close the room with the given join code
  list             list all rooms
`

func main() {
	godotenv.Load()

	dsn := os.Getenv("DUET_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	}

	db, err := database.NewPgDuetRepository(dsn)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "create":
		var hours int
		if len(os.Args) > 2 {
			hours, err = strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Println("Invalid hours. Please provide an integer.")
				os.Exit(1)
			}
		}
		room, err := createRoom(db, hours)
		if err != nil {
			log.Fatalf("Error creating room: %v", err)
		}
		fmt.Printf("Created room %s with code %s\n", room.Id, room.Code)
	case "close":
		if len(os.Args) != 3 {
			fmt.Println("Usage: roomadmin close <code>")
			os.Exit(1)
		}
		code := os.Args[2]
		if err := closeRoom(db, code); err != nil {
			log.Fatalf("Error closing room: %v", err)
		}
		fmt.Printf("Room %s has been closed.\n", code)
	case "list":
		rooms, err := db.ListRooms()
		if err != nil {
			log.Fatalf("Error listing rooms: %v", err)
		}
		for _, room := range rooms {
			state := "open"
			if !room.IsOpen {
				state = "closed"
			}
			expiry := "-"
			if room.ClosesAt != nil {
				expiry = room.ClosesAt.Format(time.RFC3339)
			}
			fmt.Printf("%s\t%s\t%s\texpires: %s\n", room.Code, room.Id, state, expiry)
		}
	default:
		fmt.Print(usage)
		os.Exit(1)
	}
}

func createRoom(db database.DuetRepository, hours int) (database.Room, error) {
	code, err := shortid.Generate()
	if err != nil {
		return database.Room{}, err
	}

	params := database.CreateRoomParams{Code: code}
	if hours > 0 {
		closesAt := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
		params.ClosesAt = &closesAt
	}

	return db.CreateRoom(params)
}

func closeRoom(db database.DuetRepository, code string) error {
	room, err := db.GetRoomByCode(code)
	if err != nil {
		return err
	}

	return db.CloseRoom(room.Id)
}
