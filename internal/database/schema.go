package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is applied in order by Migrate. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trains (
		id            VARCHAR(36)  NOT NULL PRIMARY KEY,
		code          VARCHAR(32)  NOT NULL,
		name          VARCHAR(120) NOT NULL,
		service_class VARCHAR(32)  NOT NULL DEFAULT '',
		created_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_trains_code (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS carriages (
		id         VARCHAR(36) NOT NULL PRIMARY KEY,
		train_id   VARCHAR(36) NOT NULL,
		number     INT         NOT NULL,
		class      VARCHAR(16) NOT NULL,
		quota      INT         NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_carriages_train_number (train_id, number),
		CONSTRAINT fk_carriages_train FOREIGN KEY (train_id) REFERENCES trains (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id          VARCHAR(36) NOT NULL PRIMARY KEY,
		train_id    VARCHAR(36) NOT NULL,
		origin      VARCHAR(80) NOT NULL,
		destination VARCHAR(80) NOT NULL,
		departs_at  DATETIME(6) NOT NULL,
		arrives_at  DATETIME(6) NOT NULL,
		created_at  DATETIME(6) NOT NULL,
		KEY idx_schedules_route (origin, destination, departs_at),
		CONSTRAINT fk_schedules_train FOREIGN KEY (train_id) REFERENCES trains (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// Snapshot of the carriage at attach time. No foreign key to carriages
	// on the copied columns: later carriage edits must not reach here.
	`CREATE TABLE IF NOT EXISTS schedule_carriages (
		schedule_id VARCHAR(36) NOT NULL,
		carriage_id VARCHAR(36) NOT NULL,
		train_id    VARCHAR(36) NOT NULL,
		number      INT         NOT NULL,
		class       VARCHAR(16) NOT NULL,
		quota       INT         NOT NULL,
		attached_at DATETIME(6) NOT NULL,
		PRIMARY KEY (schedule_id, carriage_id),
		UNIQUE KEY uq_schedule_carriages_number (schedule_id, number),
		CONSTRAINT fk_schedule_carriages_schedule FOREIGN KEY (schedule_id) REFERENCES schedules (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS schedule_seats (
		schedule_id VARCHAR(36) NOT NULL,
		seat_id     VARCHAR(16) NOT NULL,
		carriage_id VARCHAR(36) NOT NULL,
		carriage_no INT         NOT NULL,
		code        VARCHAR(8)  NOT NULL,
		seat_row    INT         NOT NULL,
		seat_col    VARCHAR(1)  NOT NULL,
		position    VARCHAR(8)  NOT NULL,
		class       VARCHAR(16) NOT NULL,
		status      VARCHAR(8)  NOT NULL DEFAULT 'FREE',
		owner_id    VARCHAR(36) NOT NULL DEFAULT '',
		version     INT UNSIGNED NOT NULL DEFAULT 0,
		updated_at  DATETIME(6) NOT NULL,
		PRIMARY KEY (schedule_id, seat_id),
		KEY idx_schedule_seats_carriage (schedule_id, carriage_id),
		KEY idx_schedule_seats_status (schedule_id, status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS holds (
		id          VARCHAR(36) NOT NULL PRIMARY KEY,
		schedule_id VARCHAR(36) NOT NULL,
		owner_id    VARCHAR(64) NOT NULL,
		passengers  JSON        NULL,
		status      VARCHAR(16) NOT NULL,
		booking_id  VARCHAR(36) NOT NULL DEFAULT '',
		created_at  DATETIME(6) NOT NULL,
		expires_at  DATETIME(6) NOT NULL,
		resolved_at DATETIME(6) NULL,
		KEY idx_holds_status_expires (status, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS hold_seats (
		hold_id  VARCHAR(36) NOT NULL,
		seat_id  VARCHAR(16) NOT NULL,
		position INT         NOT NULL,
		PRIMARY KEY (hold_id, seat_id),
		CONSTRAINT fk_hold_seats_hold FOREIGN KEY (hold_id) REFERENCES holds (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id           VARCHAR(36) NOT NULL PRIMARY KEY,
		reference    VARCHAR(32) NOT NULL,
		schedule_id  VARCHAR(36) NOT NULL,
		hold_id      VARCHAR(36) NOT NULL,
		owner_id     VARCHAR(64) NOT NULL,
		status       VARCHAR(16) NOT NULL,
		created_at   DATETIME(6) NOT NULL,
		cancelled_at DATETIME(6) NULL,
		UNIQUE KEY uq_bookings_hold (hold_id),
		UNIQUE KEY uq_bookings_reference (reference),
		KEY idx_bookings_schedule (schedule_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS booking_seats (
		booking_id         VARCHAR(36)  NOT NULL,
		seat_id            VARCHAR(16)  NOT NULL,
		passenger_name     VARCHAR(120) NOT NULL,
		passenger_document VARCHAR(64)  NOT NULL DEFAULT '',
		position           INT          NOT NULL,
		PRIMARY KEY (booking_id, seat_id),
		CONSTRAINT fk_booking_seats_booking FOREIGN KEY (booking_id) REFERENCES bookings (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
