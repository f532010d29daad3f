package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

const (
	itemID        = "tomato-soup"
	initialStock  = 20
	totalRequests = 50
	queueCapacity = 100
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	queue := service.NewFulfillmentQueue(service.QueueConfig{Capacity: queueCapacity})
	orderService := service.NewOrderService(store, queue,
		service.WithIdempotency(storage.NewMemoryIdempotency()))

	_, err := orderService.AddMenuItem(ctx, domain.MenuItem{
		ID:         itemID,
		Name:       "Tomato Soup",
		PriceCents: 4000,
		Category:   "Main",
		Station:    "soup",
		Available:  initialStock,
		Active:     true,
	})
	if err != nil {
		log.Fatalf("failed to add item: %v", err)
	}

	var reservedCount, shortCount, otherCount atomic.Int32
	var mu sync.Mutex
	var reserved []string

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(customer int) {
			defer wg.Done()

			order, err := orderService.SubmitOrder(ctx, fmt.Sprintf("customer-%d", customer),
				[]domain.OrderLine{{ItemID: itemID, Quantity: 1}})
			switch {
			case err == nil:
				reservedCount.Add(1)
				mu.Lock()
				reserved = append(reserved, order.ID)
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("customer %d: unexpected error: %v", customer, err)
			}
		}(i)
	}
	wg.Wait()
	submitElapsed := time.Since(start)

	// Confirm half, cancel the rest, then let the station drain its queue.
	var confirmed, cancelled int
	for i, id := range reserved {
		if i%2 == 0 {
			if _, err := orderService.ConfirmOrder(ctx, id); err != nil {
				log.Printf("confirm %s: %v", id, err)
				continue
			}
			confirmed++
		} else {
			if _, err := orderService.CancelOrder(ctx, id); err != nil {
				log.Printf("cancel %s: %v", id, err)
				continue
			}
			cancelled++
		}
	}

	var fulfilled int
	for {
		ticket, ok, err := orderService.StationDequeue(ctx, "soup")
		if err != nil {
			log.Fatalf("dequeue: %v", err)
		}
		if !ok {
			break
		}
		if _, err := orderService.StationMarkFulfilled(ctx, ticket.OrderID); err != nil {
			log.Printf("fulfil %s: %v", ticket.OrderID, err)
			continue
		}
		fulfilled++
	}

	item, err := store.GetMenuItem(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Reserved:         %d\n", reservedCount.Load())
	fmt.Printf("Out of stock:     %d\n", shortCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Confirmed:        %d\n", confirmed)
	fmt.Printf("Cancelled:        %d\n", cancelled)
	fmt.Printf("Fulfilled:        %d\n", fulfilled)
	fmt.Printf("Submit Duration:  %v\n", submitElapsed)
	fmt.Println("==========================================")

	if reservedCount.Load() == initialStock && shortCount.Load() == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d orders reserved, %d out of stock\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d reserved/%d out of stock, got %d/%d\n",
			initialStock, totalRequests-initialStock, reservedCount.Load(), shortCount.Load())
	}

	if want := cancelled; item.Available == want {
		fmt.Printf("PASS: Final stock %d equals cancelled orders\n", item.Available)
	} else {
		fmt.Printf("FAIL: Expected final stock %d, got %d\n", want, item.Available)
	}

	if fulfilled == confirmed {
		fmt.Println("PASS: Every confirmed order was fulfilled")
	} else {
		fmt.Printf("FAIL: Confirmed %d but fulfilled %d\n", confirmed, fulfilled)
	}
}
