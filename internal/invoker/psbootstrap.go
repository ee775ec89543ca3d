package invoker

// Driver script for the PowerShell host process. Started once per execution
// environment; handler load (dot-source / Import-Module) runs before the
// ready line so cold-start failures surface immediately. Invocations arrive
// as NDJSON on stdin; responses leave as marker-prefixed NDJSON on stdout,
// so anything a handler itself writes to the output stream passes through
// to the logs untouched.
//
// The host inherits its environment at launch, so request-scoped variables
// cannot be set from outside. The driver owns them instead: before each
// invocation it sets $env:_X_AMZN_TRACE_ID from the context that crossed
// the pipe (or unsets it when the invocation carries no trace id), and
// clears it again once the invocation finishes.

// protocolMarker prefixes every protocol line the driver emits.
const protocolMarker = "__PULSAR__"

const driverScript = `$ErrorActionPreference = 'Stop'
$Marker = '__PULSAR__'

$Kind     = $env:PULSAR_HANDLER_KIND
$Script   = $env:PULSAR_HANDLER_SCRIPT
$Function = $env:PULSAR_HANDLER_FUNCTION
$Module   = $env:PULSAR_HANDLER_MODULE

function Write-PulsarLine([hashtable]$payload) {
    $json = ConvertTo-Json -InputObject $payload -Compress -Depth 30 -WarningAction SilentlyContinue
    [Console]::Out.WriteLine($Marker + $json)
}

try {
    switch ($Kind) {
        'script-function' { . $Script }
        'module'          { Import-Module -Name $Module -ErrorAction Stop }
    }
} catch {
    Write-PulsarLine @{ error = $_.Exception.Message; errorType = $_.Exception.GetType().Name }
    exit 1
}

Write-PulsarLine @{ ready = $true }

function New-PulsarContext($raw) {
    $ctx = [pscustomobject]@{
        RequestId          = $raw.request_id
        FunctionName       = $raw.function_name
        FunctionVersion    = $raw.function_version
        InvokedFunctionArn = $raw.invoked_function_arn
        MemoryLimitInMB    = $raw.memory_limit_mb
        LogGroupName       = $raw.log_group_name
        LogStreamName      = $raw.log_stream_name
        ClientContext      = $raw.client_context
        Identity           = $raw.cognito_identity
        TraceId            = $raw.trace_id
        DeadlineMs         = $raw.deadline_ms
    }
    Add-Member -InputObject $ctx -MemberType ScriptMethod -Name GetRemainingTimeInMillis -Value {
        [int64]($this.DeadlineMs - [DateTimeOffset]::UtcNow.ToUnixTimeMilliseconds())
    }
    return $ctx
}

while ($null -ne ($line = [Console]::In.ReadLine())) {
    if ([string]::IsNullOrWhiteSpace($line)) { continue }
    $req = ConvertFrom-Json -InputObject $line
    $LambdaContext = New-PulsarContext $req.context
    if ([string]::IsNullOrEmpty($LambdaContext.TraceId)) {
        Remove-Item Env:_X_AMZN_TRACE_ID -ErrorAction SilentlyContinue
    } else {
        $env:_X_AMZN_TRACE_ID = $LambdaContext.TraceId
    }
    try {
        $result = switch ($Kind) {
            'script' { & $Script $req.input $LambdaContext }
            default  { & $Function $req.input $LambdaContext }
        }
        Write-PulsarLine @{ id = $req.id; output = $result }
    } catch {
        Write-PulsarLine @{ id = $req.id; error = $_.Exception.Message; errorType = $_.Exception.GetType().Name }
    }
    Remove-Item Env:_X_AMZN_TRACE_ID -ErrorAction SilentlyContinue
}
`
