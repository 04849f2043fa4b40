package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/2beens/adminauth/internal/accounts"
	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/config"
	"github.com/2beens/adminauth/internal/db"

	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	hashPassword := flag.String("hash", "", "print the bcrypt hash of the given password and exit")
	initSchema := flag.Bool("init-schema", false, "create the admin tables in postgres")
	addUsername := flag.String("add", "", "add an admin account with the given username")
	password := flag.String("password", "", "password of the admin account added with -add")
	deactivate := flag.String("deactivate", "", "deactivate the admin account with the given username")
	flag.Parse()

	if *hashPassword != "" {
		cost := auth.DefaultPasswordCost
		if cfg, err := config.Load(*env, *configPath); err == nil && cfg.PasswordCost > 0 {
			cost = cfg.PasswordCost
		}
		hash, err := auth.NewBcryptHasher(cost).Hash(*hashPassword)
		if err != nil {
			log.Fatalf("hash password: %s", err)
		}
		fmt.Println(hash)
		return
	}

	if !*initSchema && *addUsername == "" && *deactivate == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}
	if cfg.PostgresHost == "" {
		log.Fatalln("postgres_host not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	secrets, err := config.LoadSecrets(ctx)
	if err != nil {
		log.Fatalf("load secrets: %s", err)
	}

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     cfg.PostgresHost,
		DBPort:     cfg.PostgresPort,
		DBName:     cfg.PostgresDBName,
		DBUser:     cfg.PostgresUser,
		DBPassword: secrets.PostgresPassword,
	})
	if err != nil {
		log.Fatalf("new db pool: %s", err)
	}
	defer dbPool.Close()

	if *initSchema {
		if err := db.ApplySchema(ctx, dbPool); err != nil {
			log.Fatalf("init schema: %s", err)
		}
		log.Println("schema applied")
	}

	repo := accounts.NewRepo(dbPool)

	if *addUsername != "" {
		if *password == "" {
			log.Fatalln("-password is required with -add")
		}
		hash, err := auth.NewBcryptHasher(cfg.PasswordCost).Hash(*password)
		if err != nil {
			log.Fatalf("hash password: %s", err)
		}
		if err := repo.Add(ctx, &auth.AdminAccount{
			Username:     *addUsername,
			PasswordHash: hash,
			IsActive:     true,
		}); err != nil {
			log.Fatalf("add admin [%s]: %s", *addUsername, err)
		}
		log.Printf("admin [%s] added", *addUsername)
	}

	if *deactivate != "" {
		if err := repo.SetActive(ctx, *deactivate, false); err != nil {
			log.Fatalf("deactivate admin [%s]: %s", *deactivate, err)
		}
		log.Printf("admin [%s] deactivated", *deactivate)
	}
}
