package storage

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProfileRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.LoadProfile(); err != nil || ok {
		t.Fatalf("LoadProfile on empty db = ok=%v err=%v, want none", ok, err)
	}

	p := ProfileRow{PeerID: "peerA", DisplayName: "Alice", FriendCode: "ABC12345"}
	if err := db.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, ok, err := db.LoadProfile()
	if err != nil || !ok {
		t.Fatalf("LoadProfile = ok=%v err=%v", ok, err)
	}
	if got != p {
		t.Errorf("profile = %+v, want %+v", got, p)
	}

	// Replacing the profile keeps a single row.
	p2 := ProfileRow{PeerID: "peerA", DisplayName: "Alice2", FriendCode: "XYZ98765"}
	if err := db.SaveProfile(p2); err != nil {
		t.Fatalf("SaveProfile replace: %v", err)
	}
	got, _, _ = db.LoadProfile()
	if got != p2 {
		t.Errorf("replaced profile = %+v, want %+v", got, p2)
	}
}

func TestFriendsCRUD(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertFriend(FriendRow{PeerID: "p1", DisplayName: "Bob", FriendCode: "BOB11111"}); err != nil {
		t.Fatalf("UpsertFriend: %v", err)
	}
	if err := db.UpsertFriend(FriendRow{PeerID: "p2", DisplayName: "Cleo", FriendCode: "CLE22222"}); err != nil {
		t.Fatalf("UpsertFriend: %v", err)
	}

	friends, err := db.ListFriends()
	if err != nil {
		t.Fatalf("ListFriends: %v", err)
	}
	if len(friends) != 2 {
		t.Fatalf("got %d friends, want 2", len(friends))
	}

	f, ok, err := db.GetFriend("p1")
	if err != nil || !ok {
		t.Fatalf("GetFriend = ok=%v err=%v", ok, err)
	}
	if f.DisplayName != "Bob" {
		t.Errorf("display name = %q, want Bob", f.DisplayName)
	}

	if err := db.RemoveFriend("p1"); err != nil {
		t.Fatalf("RemoveFriend: %v", err)
	}
	if _, ok, _ := db.GetFriend("p1"); ok {
		t.Error("friend p1 still present after remove")
	}
}

func TestRequestDuplicateIDIgnored(t *testing.T) {
	db := openTestDB(t)

	r := RequestRow{ID: "req1", FromID: "a", FromName: "A", ToID: "b", Status: "pending", CreatedAt: 100}
	if err := db.SaveRequest(r); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}

	// Re-delivery with a mutated payload must not overwrite the original.
	dup := r
	dup.FromName = "Mallory"
	if err := db.SaveRequest(dup); err != nil {
		t.Fatalf("SaveRequest duplicate: %v", err)
	}

	got, ok, err := db.GetRequest("req1")
	if err != nil || !ok {
		t.Fatalf("GetRequest = ok=%v err=%v", ok, err)
	}
	if got.FromName != "A" {
		t.Errorf("from_name = %q, want the original A", got.FromName)
	}
}

func TestHasPendingBetween(t *testing.T) {
	db := openTestDB(t)

	has, err := db.HasPendingBetween("a", "b")
	if err != nil {
		t.Fatalf("HasPendingBetween: %v", err)
	}
	if has {
		t.Fatal("unexpected pending request on empty db")
	}

	db.SaveRequest(RequestRow{ID: "r1", FromID: "a", ToID: "b", Status: "pending", CreatedAt: 1})
	if has, _ = db.HasPendingBetween("a", "b"); !has {
		t.Error("pending request not reported")
	}
	// Directional: b->a is separate.
	if has, _ = db.HasPendingBetween("b", "a"); has {
		t.Error("reverse direction reported as pending")
	}

	if err := db.UpdateRequestStatus("r1", "accepted"); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
	if has, _ = db.HasPendingBetween("a", "b"); has {
		t.Error("accepted request still reported as pending")
	}
}

func TestUpdateRequestStatusMissing(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpdateRequestStatus("nope", "accepted"); err == nil {
		t.Fatal("expected error for unknown request id")
	}
}

func TestFriendCodes(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveProfile(ProfileRow{PeerID: "me", DisplayName: "Me", FriendCode: "MEE00001"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := db.RegisterCode("BOB11111", "p1"); err != nil {
		t.Fatalf("RegisterCode: %v", err)
	}

	for _, tc := range []struct {
		code string
		want bool
	}{
		{"MEE00001", true},
		{"BOB11111", true},
		{"ZZZ99999", false},
	} {
		got, err := db.CodeExists(tc.code)
		if err != nil {
			t.Fatalf("CodeExists(%s): %v", tc.code, err)
		}
		if got != tc.want {
			t.Errorf("CodeExists(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}

	peerID, ok, err := db.PeerByCode("BOB11111")
	if err != nil || !ok {
		t.Fatalf("PeerByCode = ok=%v err=%v", ok, err)
	}
	if peerID != "p1" {
		t.Errorf("PeerByCode = %q, want p1", peerID)
	}
}
