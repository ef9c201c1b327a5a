package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/app/config.py b/app/config.py
index 3b18e51..a9c2f10 100644
--- a/app/config.py
+++ b/app/config.py
@@ -3 +3,2 @@ def parse_config(path):
-    return validate(load_file(path))
+    raw = load_file(path)
+    return validate(raw)
@@ -12,2 +13,0 @@ def validate(raw):
-    print(raw)
-    return eval(raw)
diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -7 +7 @@ func main() {
-	run()
+	run(ctx)
`

func TestParseDiff(t *testing.T) {
	changes, err := ParseDiff([]byte(sampleDiff))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "app/config.py", changes[0].Path)
	assert.Equal(t, []int{3, 4, 13}, changes[0].ChangedLines)
	assert.Equal(t, "main.go", changes[1].Path)
	assert.Equal(t, []int{7}, changes[1].ChangedLines)
}

func TestParseDiff_Empty(t *testing.T) {
	changes, err := ParseDiff(nil)
	require.NoError(t, err)
	assert.Empty(t, changes)
}
