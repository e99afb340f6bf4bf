// simulate drives two concurrent conversations through the /chat endpoint
// toward the same doctor, date, and time, and reports which one won the
// slot. Run it against a freshly seeded server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Phone   string `json:"phone,omitempty"`
}

type chatResponse struct {
	Response struct {
		Text    string `json:"text"`
		Outcome string `json:"outcome"`
		Step    string `json:"step"`
	} `json:"response"`
}

func main() {
	baseURL := os.Getenv("SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	script := []string{"book appointment", "A", "A", "A", "morning", "A"}
	closing := []string{"annual checkup"}

	client := &http.Client{Timeout: 10 * time.Second}

	type result struct {
		user    string
		outcome string
		text    string
		err     error
	}

	run := func(user, name, phone string) result {
		steps := append(append([]string{}, script...), name)
		steps = append(steps, closing...)
		var last chatResponse
		for _, msg := range steps {
			resp, err := send(client, baseURL, chatRequest{UserID: user, Message: msg, Phone: phone})
			if err != nil {
				return result{user: user, err: err}
			}
			last = resp
			// Stop early if the flow already gave a terminal answer.
			if last.Response.Outcome == "aborted" || last.Response.Outcome == "error" {
				break
			}
		}
		return result{user: user, outcome: last.Response.Outcome, text: last.Response.Text}
	}

	var wg sync.WaitGroup
	results := make(chan result, 2)

	contenders := []struct{ name, phone string }{
		{"Alice Carter", "+15550001111"},
		{"Bruno Costa", "+15550002222"},
	}
	for _, c := range contenders {
		wg.Add(1)
		go func(name, phone string) {
			defer wg.Done()
			results <- run("sim-"+uuid.NewString(), name, phone)
		}(c.name, c.phone)
	}
	wg.Wait()
	close(results)

	completed := 0
	for r := range results {
		if r.err != nil {
			fmt.Printf("%s: request failed: %v\n", r.user, r.err)
			os.Exit(1)
		}
		fmt.Printf("%s -> %s\n", r.user, r.outcome)
		if r.outcome == "completed" {
			completed++
		}
	}

	fmt.Printf("\n%d of 2 bookings completed", completed)
	if completed == 1 {
		fmt.Println(" (expected: the slot was contended)")
	} else {
		fmt.Println(" (both may have picked different slots, or the race was lost twice)")
	}
}

func send(client *http.Client, baseURL string, req chatRequest) (chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return chatResponse{}, err
	}

	httpResp, err := client.Post(baseURL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return chatResponse{}, err
	}
	return resp, nil
}
