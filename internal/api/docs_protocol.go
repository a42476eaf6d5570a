package api

const protocolDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Stream Protocol · Watch Relay</title>
  <style>
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; color: #e6edf3; }
    main { max-width: 860px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; color: #e6edf3; }
    h2 { margin: 40px 0 12px; font-size: 18px; color: #e6edf3; border-bottom: 1px solid #21262d; padding-bottom: 8px; }
    code, pre {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 4px;
    }
    code { font-size: 12px; padding: 1px 5px; color: #e6edf3; }
    pre { padding: 16px; overflow-x: auto; }
    pre code { border: none; padding: 0; font-size: 13px; color: #c9d1d9; }
    table { width: 100%; border-collapse: collapse; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
  </style>
</head>
<body>

<nav>
  <span class="brand">Watch Relay</span>
  <a href="/docs">← REST API Docs</a>
</nav>

<main>
  <h1>Stream Protocol</h1>
  <p>One relay connection carries the change streams of any number of Kubernetes collections.</p>

  <h2 id="request">Request</h2>
  <pre><code>POST /api/v1/watch
Content-Type: application/json

{"apis": ["/api/v1/namespaces/default/pods", "/apis/apps/v1/deployments"],
 "resourceVersions": {"/api/v1/namespaces/default/pods": "81234"}}</code></pre>
  <p>
    <code>apis</code> must name at least one collection; an empty list is rejected with
    <code>400</code>. Collections outside the relay policy are rejected with <code>403</code>.
    A collection without an entry in <code>resourceVersions</code> starts from its latest state.
  </p>

  <h2 id="records">Records</h2>
  <p>The response is <code>application/x-ndjson</code>: one JSON record per line, written in
  batches at most once per flush interval per collection.</p>
  <table>
    <tr><th>type</th><th>fields</th><th>meaning</th></tr>
    <tr><td><code>ADDED</code> <code>MODIFIED</code> <code>DELETED</code></td><td><code>object</code>, <code>url</code></td><td>A change to one object of the collection at <code>url</code>.</td></tr>
    <tr><td><code>ERROR</code></td><td><code>object</code>, <code>url</code></td><td>An upstream watch error, usually a <code>Status</code> object.</td></tr>
    <tr><td><code>STREAM_END</code></td><td><code>url</code>, <code>status</code></td><td>The collection's stream ended. Other collections on the connection keep streaming.</td></tr>
  </table>
  <pre><code>{"type":"ADDED","object":{"kind":"Pod","metadata":{"name":"web-0","resourceVersion":"81240"}},"url":"/api/v1/namespaces/default/pods"}
{"type":"STREAM_END","url":"/api/v1/namespaces/default/pods","status":410}</code></pre>

  <h2 id="resume">Resuming</h2>
  <p>
    After a <code>STREAM_END</code> or a dropped connection, fetch a fresh resource version with
    <code>GET /api/v1/resource-version?url=&lt;collection-url&gt;</code> and reconnect with the full
    set of collections and their resource versions. Narrowing the set is also a reconnect; there is
    no in-band unsubscribe.
  </p>

  <h2 id="websocket">WebSocket</h2>
  <p>
    <code>GET /api/v1/watch/ws</code> carries the same protocol. The first client text frame is the
    request body; every server text frame holds one batch of records. Invalid requests are closed
    with status <code>1003</code>, policy violations with <code>1008</code>.
  </p>
</main>

</body>
</html>`
