package database

import "testing"

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017", defaultDatabaseName},
		{"mongodb://localhost:27017/", defaultDatabaseName},
		{"mongodb://localhost:27017/walks", "walks"},
		{"mongodb://user:pass@db:27017/walks?authSource=admin", "walks"},
		{"mongodb://localhost:27017/admin", defaultDatabaseName},
		{"not a uri", defaultDatabaseName},
	}

	for _, tt := range tests {
		if got := databaseName(tt.uri); got != tt.want {
			t.Errorf("databaseName(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestIsConnectedWithoutClient(t *testing.T) {
	if IsConnected() {
		t.Error("expected no connection before Connect")
	}
	if err := Disconnect(); err != nil {
		t.Errorf("disconnect without client: %v", err)
	}
}
