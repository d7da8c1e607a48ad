package sanitize

var commonPatterns = []string{
	`\beval\s*\(`,
	`\bexec\s*\(`,
	`Runtime\.getRuntime\(\)\.exec`,
	`WebAssembly`,
	`Deno\.run`,
	`java\.lang\.Runtime`,
	`process\.env`,
}

var pythonPatterns = []string{
	`\bimport\s+os\b`,
	`\bimport\s+subprocess\b`,
	`\bimport\s+sys\b`,
	`\bimport\s+shutil\b`,
	`\bimport\s+pathlib\b`,
	`\bfrom\s+(?:os|subprocess|sys|shutil|pathlib|socket|ctypes)\b`,
	`__import__`,
	`\bopen\s*\(`,
	`\bfile\s*\(`,
	`\bos\.(?:system|popen|spawn\w*|exec\w*)`,
	`\bsubprocess\.(?:call|Popen|run|check_output)`,
	`\bimportlib\b`,
	`\bctypes\b`,
	`\bpty\b`,
	`\bsocket\b`,
	`\bpickle\b`,
	`\bmarshal\b`,
	`\bbuiltins\b`,
	`__builtins__`,
	`__class__`,
	`__bases__`,
	`__subclasses__`,
	`__globals__`,
	`__code__`,
	`__reduce__`,
	`\bglobals\(\)`,
	`\blocals\(\)`,
	`\bgetattr\s*\(`,
	`\bsetattr\s*\(`,
	`\bdelattr\s*\(`,
}

var cSharpPatterns = []string{
	`System\.Diagnostics\.Process`,
	`\bProcess\.Start\s*\(`,
	`System\.IO\.File`,
	`System\.IO\.Directory`,
	`\bFile\.(?:Read|Write|Open|Delete|Create|Copy|Move|Append)\w*\s*\(`,
	`\bDirectory\.\w+\s*\(`,
	`System\.Net\.WebClient`,
	`System\.Net\.Http`,
	`\bHttpClient\b`,
	`\bSystem\.Reflection\b`,
	`\bAssembly\.\w+`,
	`\bType\.GetType\b`,
	`\bActivator\.CreateInstance\b`,
	`\bDllImport\b`,
	`\bMarshal\.\w+`,
	`\bIntPtr\b`,
	`\bunsafe\s*\{`,
	`\bfixed\s*\(`,
	`\bstackalloc\b`,
	`\bEnvironment\.Exit\b`,
	`\bEnvironment\.GetEnvironmentVariable\b`,
	`\bConsole\.Read(?:Line|Key)?\s*\(`,
	`\bThread\.Sleep\b`,
	`\bTask\.Delay\b`,
	`\bParallel\.\w+`,
	`\bThreadPool\b`,
	`\bGCHandle\b`,
	`\bRuntimeHelpers\b`,
	`\bGC\.\w+`,
}

var typeScriptPatterns = []string{
	`\bimport\s+\*\s+as\s+\w+\s+from\s+['"](?:fs|path|child_process|os|net|http|https|vm|worker_threads)['"]`,
	`\bimport\s+\{[^}]*\}\s+from\s+['"](?:fs|path|child_process|os|net|http|https|vm|worker_threads)['"]`,
	`\bimport\s+\w+\s+from\s+['"](?:fs|path|child_process|os|net|http|https|vm|worker_threads)['"]`,
	`\brequire\s*\(`,
	`\bimport\s*\(`,
	`\bnamespace\s+process\b`,
	`\bdeclare\s+(?:var|let|const|namespace)\s+process\b`,
	`\bdeclare\s+module\s+['"](?:fs|path|child_process|os|net|http|https|crypto|zlib|dns|dgram|cluster|readline|repl|vm|v8|tls|worker_threads|inspector|async_hooks)['"]`,
	`\bchild_process\b`,
	`\bprocess\.(?:exit|kill|binding|dlopen|chdir)\b`,
}

var javaScriptPatterns = []string{
	`\brequire\s*\(`,
	`\bimport\s*\(`,
	`\bprocess\b`,
	`\bchild_process\b`,
	`\b(?:fs|path|net|http|https|os|crypto|zlib|dns|dgram|cluster|readline|repl|vm|v8|tls|worker_threads|inspector|async_hooks)\s*(?:\.|\[)`,
	`\bmodule\s*(?:\.|\[)`,
	`__dirname`,
	`__filename`,
	`\bnew\s+Function\s*\(`,
	`(?:^|[^.\w])Function\s*\(`,
}

var goPatterns = []string{
	`\bos\.(?:Exit|Remove|RemoveAll|Rename|Chmod|Chown|Mkdir|MkdirAll|Create|OpenFile|Getenv|Setenv|Unsetenv|Clearenv|Getwd|Chdir|Hostname|Getpid)\s*\(`,
	`\bexec\.(?:Command|CommandContext|LookPath)\s*\(`,
	`\bnet\.(?:Dial|DialTimeout|Listen|ListenPacket|Lookup\w+)\s*\(`,
	`\bhttp\.(?:Get|Post|PostForm|Head|ListenAndServe|ListenAndServeTLS|Serve|ServeTLS)\s*\(`,
	`\bhttp\.(?:Client|Transport)\s*\{`,
	`\bioutil\.(?:ReadFile|WriteFile|ReadDir|TempFile|TempDir)\s*\(`,
	`\bfilepath\.(?:Walk|WalkDir)\s*\(`,
	`\bunsafe\.`,
	`\breflect\.(?:ValueOf|TypeOf)\s*\(`,
	`\bruntime\.(?:GC|GOMAXPROCS|Goexit|Gosched|SetFinalizer|Stack|NumGoroutine)\s*\(`,
	`\bimport\s+"C"`,
	`/\*\s*#include`,
	`\bC\.\w+`,
	`\bsql\.Open\s*\(`,
	`\bplugin\.Open\s*\(`,
	`//\s*\+build`,
	`//go:(?:build|noescape|nosplit|norace|linkname)`,
	`\bgo\s+func\s*\(`,
	`\btime\.(?:Sleep|After|Tick|NewTicker|NewTimer)\s*\(`,
	`\bcontext\.(?:WithCancel|WithDeadline|WithTimeout|WithValue)\s*\(`,
	`\blog\.(?:Fatal|Panic)\w*\s*\(`,
}

var goDeniedImports = []string{
	"os",
	"os/exec",
	"net",
	"net/http",
	"unsafe",
	"reflect",
	"runtime",
	"syscall",
	"plugin",
	"database/sql",
	"crypto/tls",
	"crypto/x509",
	"io/ioutil",
	"path/filepath",
	"time",
	"context",
	"log",
	"testing",
}
