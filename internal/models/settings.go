package models

import (
	"time"
)

type Settings struct {
	AdminPassword string    `json:"admin_password"`
	PricePerToken int64     `json:"price_per_token"`
	Created       time.Time `json:"created"`
}
