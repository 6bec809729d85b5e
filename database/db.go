package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "storefront")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createSchema(db); err != nil {
		return nil, err
	}

	logger.Info("Database connection established")
	return db, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		category VARCHAR(50) NOT NULL,
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		compare_price NUMERIC(10,2) NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		min_order_quantity INTEGER NOT NULL DEFAULT 1,
		customizable BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		featured BOOLEAN NOT NULL DEFAULT FALSE,
		tags TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS product_options (
		id SERIAL PRIMARY KEY,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(20) NOT NULL,
		choices TEXT[] NOT NULL DEFAULT '{}',
		required BOOLEAN NOT NULL DEFAULT FALSE,
		additional_cost NUMERIC(10,2) NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS offers (
		id SERIAL PRIMARY KEY,
		code VARCHAR(50) UNIQUE NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		type VARCHAR(20) NOT NULL,
		value NUMERIC(10,2) NOT NULL CHECK (value >= 0),
		minimum_order_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
		maximum_discount NUMERIC(10,2),
		usage_limit INTEGER,
		usage_count INTEGER NOT NULL DEFAULT 0,
		user_usage_limit INTEGER NOT NULL DEFAULT 1,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_public BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (usage_limit IS NULL OR usage_count <= usage_limit)
	);

	CREATE TABLE IF NOT EXISTS offer_products (
		offer_id INTEGER NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		PRIMARY KEY (offer_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS offer_categories (
		offer_id INTEGER NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
		category VARCHAR(50) NOT NULL,
		PRIMARY KEY (offer_id, category)
	);

	CREATE TABLE IF NOT EXISTS offer_usages (
		id SERIAL PRIMARY KEY,
		offer_id INTEGER NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		order_number VARCHAR(64) NOT NULL,
		used_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		order_number VARCHAR(64) UNIQUE NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_intent_id VARCHAR(255) NOT NULL DEFAULT '',
		subtotal NUMERIC(10,2) NOT NULL,
		shipping NUMERIC(10,2) NOT NULL,
		tax NUMERIC(10,2) NOT NULL,
		discount NUMERIC(10,2) NOT NULL DEFAULT 0,
		total NUMERIC(10,2) NOT NULL,
		offer_id INTEGER REFERENCES offers(id),
		ship_name VARCHAR(255) NOT NULL,
		ship_street VARCHAR(255) NOT NULL,
		ship_city VARCHAR(255) NOT NULL,
		ship_state VARCHAR(255) NOT NULL DEFAULT '',
		ship_zip VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(10,2) NOT NULL,
		customizations JSONB NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS events (
		id SERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		category VARCHAR(50) NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ,
		venue VARCHAR(255) NOT NULL DEFAULT '',
		city VARCHAR(255) NOT NULL DEFAULT '',
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		featured BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS event_registrations (
		id SERIAL PRIMARY KEY,
		event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		status VARCHAR(20) NOT NULL DEFAULT 'registered',
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (event_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS meetups (
		id SERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		organizer_id INTEGER NOT NULL REFERENCES users(id),
		category VARCHAR(50) NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		venue VARCHAR(255) NOT NULL DEFAULT '',
		city VARCHAR(255) NOT NULL DEFAULT '',
		max_attendees INTEGER NOT NULL CHECK (max_attendees >= 2),
		is_public BOOLEAN NOT NULL DEFAULT TRUE,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS meetup_attendees (
		id SERIAL PRIMARY KEY,
		meetup_id INTEGER NOT NULL REFERENCES meetups(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		status VARCHAR(20) NOT NULL DEFAULT 'joined',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (meetup_id, user_id)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
