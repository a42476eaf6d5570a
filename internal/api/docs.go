package api

// docsHTML renders /openapi.json with Stoplight Elements. The stream framing
// itself is not expressible in OpenAPI, so the page links to /docs/protocol.
const docsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>watchrelay</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; display: flex; flex-direction: column; height: 100vh; }
    header { font: 13px system-ui, sans-serif; padding: 8px 16px; border-bottom: 1px solid #ddd; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header>watchrelay: Kubernetes watch relay. <a href="/docs/protocol">Stream protocol</a> &middot; <a href="/metrics">Metrics</a></header>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" />
</body>
</html>`
