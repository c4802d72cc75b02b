package supervisor

import "testing"

func TestAcquireLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l1, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	defer l1.release()

	if _, err := acquireLock(dir); err == nil {
		t.Fatal("expected second acquireLock on the same directory to fail")
	}
}

func TestAcquireLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l1, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	l1.release()

	l2, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("reacquireLock after release: %v", err)
	}
	l2.release()
}

func TestLockFile_ReleaseNilIsNoop(t *testing.T) {
	var l *lockFile
	l.release()
}
