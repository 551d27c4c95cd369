package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/common/database"
	logpkg "github.com/LauraMoney42/SecureHeart-sub001/internal/common/logger"
	mqttcommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/mqtt"
	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
)

// 部署连通性与数据巡检工具
// 用法: secureheart-check [wearer_id]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger("warn", "console", "")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("1. 组件连通性")
	fmt.Println(strings.Repeat("=", 80))

	// PostgreSQL
	var db *sql.DB
	db, err = database.NewPostgresDB(&cfg.Database)
	if err != nil {
		fmt.Printf("%-12s FAIL  %v\n", "PostgreSQL", err)
	} else {
		defer db.Close()
		fmt.Printf("%-12s OK    %s:%d/%s\n", "PostgreSQL", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	}

	// Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer redisClient.Close()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		fmt.Printf("%-12s FAIL  %v\n", "Redis", err)
		redisClient = nil
	} else {
		fmt.Printf("%-12s OK    %s\n", "Redis", cfg.Redis.Addr)
	}

	// MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		fmt.Printf("%-12s FAIL  %v\n", "MQTT", err)
	} else if !mqttClient.IsConnected() {
		fmt.Printf("%-12s FAIL  connected=false\n", "MQTT")
	} else {
		fmt.Printf("%-12s OK    %s\n", "MQTT", cfg.MQTT.Broker)
		mqttClient.Disconnect()
	}

	// 数据库表统计
	if db != nil {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("2. 事件表统计")
		fmt.Println(strings.Repeat("=", 80))

		var totalEvents, unrecovered, totalChanges int
		if err := db.QueryRow(`SELECT COUNT(*) FROM orthostatic_events`).Scan(&totalEvents); err != nil {
			log.Printf("Failed to count orthostatic_events: %v", err)
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM orthostatic_events WHERE is_recovered = false`).Scan(&unrecovered); err != nil {
			log.Printf("Failed to count unrecovered events: %v", err)
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM significant_changes`).Scan(&totalChanges); err != nil {
			log.Printf("Failed to count significant_changes: %v", err)
		}
		fmt.Printf("%-30s %d\n", "orthostatic_events", totalEvents)
		fmt.Printf("%-30s %d\n", "  └ unrecovered", unrecovered)
		fmt.Printf("%-30s %d\n", "significant_changes", totalChanges)

		// 各佩戴者事件分布
		rows, err := db.Query(`
			SELECT wearer_id, COUNT(*), MAX(event_time)
			FROM orthostatic_events
			GROUP BY wearer_id
			ORDER BY COUNT(*) DESC
			LIMIT 20
		`)
		if err != nil {
			log.Printf("Failed to query per-wearer stats: %v", err)
		} else {
			defer rows.Close()
			fmt.Println("\n" + strings.Repeat("-", 80))
			fmt.Printf("%-40s %-10s %-25s\n", "wearer_id", "events", "latest_event")
			fmt.Println(strings.Repeat("-", 80))
			for rows.Next() {
				var wearerID string
				var count int
				var latest time.Time
				if err := rows.Scan(&wearerID, &count, &latest); err != nil {
					log.Printf("Failed to scan row: %v", err)
					continue
				}
				fmt.Printf("%-40s %-10d %-25s\n", wearerID, count, latest.Format("2006-01-02 15:04:05"))
			}
		}
	}

	// Redis Streams 长度
	if redisClient != nil {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("3. Redis Streams")
		fmt.Println(strings.Repeat("=", 80))

		streams := map[string]string{
			"telemetry":           cfg.Monitor.Stream.Telemetry,
			"posture_changes":     cfg.Monitor.Stream.PostureChanges,
			"orthostatic_events":  cfg.Monitor.Stream.OrthostaticEvents,
			"significant_changes": cfg.Monitor.Stream.SignificantChanges,
			"alerts":              cfg.Monitor.Stream.Alerts,
			"heart_rate":          cfg.Monitor.Stream.HeartRate,
		}
		for _, name := range []string{"telemetry", "posture_changes", "orthostatic_events", "significant_changes", "alerts", "heart_rate"} {
			length, err := redisClient.XLen(ctx, streams[name]).Result()
			if err != nil {
				fmt.Printf("%-30s FAIL  %v\n", name, err)
				continue
			}
			fmt.Printf("%-30s %d\n", name, length)
		}

		stateKeys, err := redisClient.Keys(ctx, cfg.Monitor.Cache.StatePrefix+"*").Result()
		if err != nil {
			log.Printf("Failed to scan engine state keys: %v", err)
		} else {
			fmt.Printf("%-30s %d\n", "engine_state snapshots", len(stateKeys))
		}
	}

	// 指定佩戴者的实时状态
	if len(os.Args) > 1 && redisClient != nil {
		wearerID := os.Args[1]
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Printf("4. 佩戴者实时状态 (%s)\n", wearerID)
		fmt.Println(strings.Repeat("=", 80))

		val, err := redisClient.Get(ctx, cfg.Monitor.Cache.RealtimePrefix+wearerID).Result()
		if err != nil {
			fmt.Printf("realtime cache: MISS (%v)\n", err)
		} else {
			fmt.Printf("realtime cache: %s\n", val)
		}

		state, err := redisClient.Get(ctx, cfg.Monitor.Cache.StatePrefix+wearerID).Result()
		if err != nil {
			fmt.Printf("engine state:   MISS (%v)\n", err)
		} else {
			fmt.Printf("engine state:   %s\n", state)
		}
	}

	fmt.Println()
}
