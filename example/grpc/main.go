package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	appgrpc "github.com/HrishikShaji/mqtt-dashboard/internal/grpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	addr := "localhost:9090"
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		addr = v
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	client := appgrpc.NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Тест 1: GetStatus
	fmt.Println("=== Test 1: GetStatus ===")
	testGetStatus(ctx, client)

	// Тест 2: ListTopics
	fmt.Println("\n=== Test 2: ListTopics ===")
	topic := testListTopics(ctx, client)

	// Тест 3: GetView
	fmt.Println("\n=== Test 3: GetView ===")
	testGetView(ctx, client, topic)

	// Тест 4: Ошибки валидации
	fmt.Println("\n=== Test 4: Validation Errors ===")
	testValidationErrors(ctx, client)

	// Тест 5: WatchView, несколько обновлений
	fmt.Println("\n=== Test 5: WatchView ===")
	testWatchView(ctx, client, topic, 3)
}

func testGetStatus(ctx context.Context, client *appgrpc.Client) {
	st, err := client.GetStatus(ctx)
	if err != nil {
		logError(err)
		return
	}
	fmt.Printf("MQTT connection: %s\n", st)
}

func testListTopics(ctx context.Context, client *appgrpc.Client) string {
	resp, err := client.ListTopics(ctx)
	if err != nil {
		logError(err)
		return ""
	}

	var first string
	for i, v := range resp.GetValues() {
		fields := v.GetStructValue().GetFields()
		if i == 0 {
			first = fields["topic"].GetStringValue()
		}
		fmt.Printf("%d. %s (%s): samples=%d, quality=%s\n", i+1,
			fields["topic"].GetStringValue(),
			fields["kind"].GetStringValue(),
			int(fields["samples"].GetNumberValue()),
			fields["quality"].GetStringValue())
	}
	return first
}

func testGetView(ctx context.Context, client *appgrpc.Client, topic string) {
	if topic == "" {
		fmt.Println("No topics configured")
		return
	}

	resp, err := client.GetView(ctx, topic)
	if err != nil {
		logError(err)
		return
	}

	out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	fmt.Println(string(out))
}

func testValidationErrors(ctx context.Context, client *appgrpc.Client) {
	// Тест пустого топика
	fmt.Println("Testing empty topic...")
	if _, err := client.GetView(ctx, ""); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		}
	}

	// Тест неизвестного топика
	fmt.Println("Testing unknown topic...")
	if _, err := client.GetView(ctx, "unknown/topic"); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		} else {
			logError(err)
		}
	}
}

func testWatchView(ctx context.Context, client *appgrpc.Client, topic string, n int) {
	if topic == "" {
		return
	}

	stream, err := client.WatchView(ctx, topic)
	if err != nil {
		logError(err)
		return
	}

	for i := 0; i < n; i++ {
		view, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logError(err)
			return
		}
		fields := view.GetFields()
		fmt.Printf("update %d: samples=%d, generatedAt=%s\n", i+1,
			int(fields["samples"].GetNumberValue()),
			fields["generatedAt"].GetStringValue())
	}
}

func logError(err error) {
	if st, ok := status.FromError(err); ok {
		log.Printf("gRPC error: %s (code: %s)", st.Message(), st.Code())
	} else {
		log.Printf("Error: %v", err)
	}
}
