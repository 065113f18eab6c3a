package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/sectorkv/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("ForAllOrder", func(t *testing.T) {
			testForAllOrder(t, factory())
		})

		t.Run("ForAllStop", func(t *testing.T) {
			testForAllStop(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("SaveDeterministic", func(t *testing.T) {
			testSaveDeterministic(t, factory)
		})

		t.Run("LoadRejectsForeign", func(t *testing.T) {
			testLoadRejectsForeign(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("CollisionHandling", func(t *testing.T) {
			testCollisionHandling(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2)

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = database.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// the stored value must not alias the caller's slice
	input := []byte("mutable")
	database.Set("alias", input)
	input[0] = 'X'
	if v, _ := database.Get("alias"); string(v) != "mutable" {
		t.Errorf("Set should copy the value, got %s", v)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	database.Set("a", []byte("1"))
	database.Set("b", []byte("2"))

	database.Delete("a")

	if _, exists := database.Get("a"); exists {
		t.Errorf("Expected key a to be deleted")
	}
	if _, exists := database.Get("b"); !exists {
		t.Errorf("Expected key b to survive deletion of a")
	}
	if database.Len() != 1 {
		t.Errorf("Expected 1 entry after delete, got %d", database.Len())
	}

	// deleting a missing key is a no-op
	database.Delete("missing")
	if database.Len() != 1 {
		t.Errorf("Deleting a missing key changed the entry count to %d", database.Len())
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	if database.Has("k") {
		t.Errorf("Expected Has to return false on an empty database")
	}
	database.Set("k", nil)
	if !database.Has("k") {
		t.Errorf("Expected Has to return true for a key with an empty value")
	}
}

func testForAllOrder(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureForAll)

	keys := []string{"\x03zz", "\x01b", "\x00", "\x01a", "\x02", "\x01\x00"}
	for _, k := range keys {
		database.Set(k, []byte(k))
	}

	var seen []string
	database.ForAll(func(key string, value []byte) bool {
		if key != string(value) {
			t.Errorf("ForAll passed value %q for key %q", value, key)
		}
		seen = append(seen, key)
		return true
	})

	expected := append([]string(nil), keys...)
	sort.Strings(expected)
	if len(seen) != len(expected) {
		t.Fatalf("Expected %d entries, got %d", len(expected), len(seen))
	}
	for i := range expected {
		if seen[i] != expected[i] {
			t.Errorf("Position %d: expected %q, got %q", i, expected[i], seen[i])
		}
	}
}

func testForAllStop(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureForAll)

	for i := 0; i < 10; i++ {
		database.Set(fmt.Sprintf("key-%02d", i), []byte{byte(i)})
	}

	calls := 0
	database.ForAll(func(key string, value []byte) bool {
		calls++
		return calls < 3
	})
	if calls != 3 {
		t.Errorf("Expected ForAll to stop after 3 calls, got %d", calls)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		database.Set(key, value)
	}

	// entries of the target are replaced, not merged
	database2.Set("stale", []byte("x"))

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		actualValue, exists := database2.Get(originalKeys[i])
		if !exists {
			t.Errorf("Key %s not found after Load", originalKeys[i])
			continue
		}
		if !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", originalKeys[i], originalValues[i], actualValue)
		}
	}

	if database2.Has("stale") {
		t.Errorf("Load should replace existing entries")
	}
	if database2.Len() != numEntries {
		t.Errorf("Expected %d entries after Load, got %d", numEntries, database2.Len())
	}
}

func testSaveDeterministic(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureSave)

	// same content, different insertion order
	for i := 0; i < 100; i++ {
		database.Set(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}
	for i := 99; i >= 0; i-- {
		database2.Set(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}

	var a, b bytes.Buffer
	if err := database.Save(&a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := database2.Save(&b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Errorf("Snapshots of equal databases differ (%d vs %d bytes)", a.Len(), b.Len())
	}
}

func testLoadRejectsForeign(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureLoad)

	if err := database.Load(bytes.NewReader([]byte("NOTADB\x00\x00garbage"))); err == nil {
		t.Errorf("Expected error when loading a foreign snapshot")
	}
	if err := database.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected error when loading an empty snapshot")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	emptyKey := ""
	emptyKeyValue := []byte("value for empty key")

	database.Set(emptyKey, emptyKeyValue)

	result, exists := database.Get(emptyKey)
	if !exists {
		t.Errorf("Empty key not found after Set")
	} else if !bytes.Equal(result, emptyKeyValue) {
		t.Errorf("Value mismatch for empty key")
	}

	nilValueKey := "nil-value-key"
	database.Set(nilValueKey, nil)

	result, exists = database.Get(nilValueKey)
	if !exists {
		t.Errorf("Key for nil value not found after Set")
	} else if len(result) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	// binary keys with zero bytes are valid (sector keys start with a tag byte)
	binaryKey := string([]byte{0, 0, 0, 0, 0})
	database.Set(binaryKey, []byte("meta"))
	if v, ok := database.Get(binaryKey); !ok || string(v) != "meta" {
		t.Errorf("Binary key lookup failed: %q, %v", v, ok)
	}

	if !t.Failed() {
		largeValueKey := "large-value-key"
		largeValue := make([]byte, 4*1024*1024)

		for i := range largeValue {
			largeValue[i] = byte(i % 256)
		}

		database.Set(largeValueKey, largeValue)

		result, exists = database.Get(largeValueKey)
		if !exists {
			t.Errorf("Key for large value not found after Set")
		} else if !bytes.Equal(result, largeValue) {
			t.Errorf("Large value mismatch (got %d bytes, expected %d)", len(result), len(largeValue))
		}
	}
}

func testCollisionHandling(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	prefix := "collision-test-"
	numKeys := 1000

	for i := 0; i < numKeys; i++ {
		database.Set(fmt.Sprintf("%s%d", prefix, i), []byte(fmt.Sprintf("value-%d", i)))
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		expectedValue := []byte(fmt.Sprintf("value-%d", i))

		actualValue, exists := database.Get(key)
		if !exists {
			t.Errorf("Key %s not found", key)
			continue
		}
		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value for key %s does not match: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	for i := 0; i < numKeys; i += 2 {
		database.Delete(fmt.Sprintf("%s%d", prefix, i))
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		_, exists := database.Get(key)

		if i%2 == 0 && exists {
			t.Errorf("Key %s should be deleted", key)
		} else if i%2 == 1 && !exists {
			t.Errorf("Key %s should still exist", key)
		}
	}
}

func testConcurrentUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	numWorkers := 8
	opsPerWorker := 1000
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("w%d-key-%d", workerId, i)
				database.Set(key, []byte(key))
				if i%3 == 0 {
					database.Delete(key)
				}
				database.Get(fmt.Sprintf("hot-key-%d", i%50))
			}
		}(w)
	}

	wg.Wait()

	for w := 0; w < numWorkers; w++ {
		for i := 0; i < opsPerWorker; i++ {
			key := fmt.Sprintf("w%d-key-%d", w, i)
			v, exists := database.Get(key)
			if i%3 == 0 {
				if exists {
					t.Errorf("Key %s should have been deleted", key)
				}
				continue
			}
			if !exists || string(v) != key {
				t.Errorf("Key %s: got %q, %v", key, v, exists)
			}
		}
	}
}
