package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

// Routes loop around Imphal market areas, one stop every tick.
type point struct {
	lat, lng float64
}

type simCart struct {
	cartID   string
	password string
	token    string
	route    []point
	idx      int
}

var carts = []*simCart{
	{cartID: "cart001", password: "qwerty", route: []point{
		{24.812, 93.936}, {24.813, 93.937}, {24.814, 93.9365},
		{24.815, 93.9375}, {24.816, 93.938}, {24.8155, 93.939},
		{24.8145, 93.9385}, {24.8135, 93.9375}, {24.8125, 93.9365},
	}},
	{cartID: "cart002", password: "qwerty", route: []point{
		{24.820, 93.940}, {24.821, 93.941}, {24.822, 93.942},
		{24.823, 93.943}, {24.824, 93.944}, {24.8235, 93.945},
		{24.8225, 93.9445}, {24.8215, 93.9435}, {24.8205, 93.9425},
	}},
}

func jitter(v float64) float64 {
	return v + (rand.Float64()-0.5)*0.0003
}

func login(apiURL string, c *simCart) error {
	body, _ := json.Marshal(map[string]string{"cartId": c.cartID, "password": c.password})
	resp, err := http.Post(apiURL+"/api/auth/cart/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	var res struct {
		Token string `json:"token"`
	}
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return err
	}
	c.token = res.Token
	return nil
}

func report(apiURL string, c *simCart) error {
	pos := c.route[c.idx]
	c.idx = (c.idx + 1) % len(c.route)
	acc := float64(rand.Intn(20) + 5)
	body, _ := json.Marshal(map[string]float64{
		"latitude":  jitter(pos.lat),
		"longitude": jitter(pos.lng),
		"accuracy":  acc,
	})
	req, err := http.NewRequest(http.MethodPost, apiURL+"/api/location/update", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update failed with status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	viper.SetDefault("api_url", "http://localhost:3333")
	viper.SetDefault("update_interval", 5*time.Second)
	viper.AutomaticEnv()

	apiURL := viper.GetString("api_url")
	for _, c := range carts {
		err := login(apiURL, c)
		if err != nil {
			panic(err.Error())
		}
		log.Info().Str("cart_id", c.cartID).Msg("logged in")
		err = report(apiURL, c)
		if err != nil {
			log.Error().Err(err).Str("cart_id", c.cartID).Msg("initial update failed")
		}
	}

	ticker := time.NewTicker(viper.GetDuration("update_interval"))
	for range ticker.C {
		for _, c := range carts {
			err := report(apiURL, c)
			if err != nil {
				log.Error().Err(err).Str("cart_id", c.cartID).Msg("update failed")
			} else {
				log.Info().Str("cart_id", c.cartID).Int("stop", c.idx).Msg("location sent")
			}
		}
	}
}
